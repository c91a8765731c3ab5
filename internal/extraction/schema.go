package extraction

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/lexiqai/clinic-gateway/internal/forms"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var printer = message.NewPrinter(language.English)

var (
	genericSchema *jsonschema.Schema
	kindSchemas   map[forms.Kind]*jsonschema.Schema
)

func init() {
	genericSchema = mustCompileSchema("generic.schema.json")
	kindSchemas = map[forms.Kind]*jsonschema.Schema{
		forms.KindPatientRegistration: mustCompileSchema("patient-registration.schema.json"),
		forms.KindMedicalHistory:      mustCompileSchema("medical-history.schema.json"),
		forms.KindClinicalExamination: mustCompileSchema("clinical-examination.schema.json"),
		forms.KindDiagnosisTreatment:  mustCompileSchema("diagnosis-treatment.schema.json"),
		forms.KindDischarge:           mustCompileSchema("discharge-form.schema.json"),
	}
}

func mustCompileSchema(name string) *jsonschema.Schema {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		panic(fmt.Sprintf("failed to read embedded %s: %v", name, err))
	}

	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}

	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// Validate checks that result is usable for kind: an object whose documented keys
// carry the expected value types. Unknown keys are allowed, and an unknown kind
// only has to be an object.
func Validate(kind forms.Kind, result any) error {
	schema, ok := kindSchemas[kind]
	if !ok {
		schema = genericSchema
	}

	err := schema.Validate(result)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return fmt.Errorf("schema: %w", err)
	}
	var msgs []string
	collectSchemaErrors(ve, &msgs)
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func collectSchemaErrors(ve *jsonschema.ValidationError, msgs *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/" + strings.Join(ve.InstanceLocation, "/")
		*msgs = append(*msgs, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(printer)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, msgs)
	}
}
