package deploy

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/onyxflow/workflow-engine/internal/rulebase"
)

// bindingXML is the on-disk XML shape one canonical binding is appended as.
type bindingXML struct {
	XMLName    xml.Name `xml:"binding"`
	PlaceID    string   `xml:"placeId,attr"`
	Service    string   `xml:"service,attr"`
	Operation  string   `xml:"operation,attr"`
	ReturnAttr string   `xml:"returnAttribute,attr"`
	Inputs     []string `xml:"input"`
}

const (
	bindingsMarkerBegin = "<!-- BEGIN GENERATED CANONICAL BINDINGS -->"
	bindingsMarkerEnd   = "<!-- END GENERATED CANONICAL BINDINGS -->"
	rulebaseClose       = "</Rulebase>"
)

// writeBindings appends a deploy's generated canonical bindings into
// {ruleFolderDir}.{version}/Service.ruleml, just before </Rulebase>, marked
// with a well-known comment so a re-run of the same version is a no-op
// (spec §4.2 step 3: "Append all generated bindings, marked with a
// well-known comment, once-only, into RuleFolder.{version}/Service.ruleml
// just before </Rulebase>"). The file is not read back at runtime; it
// exists so an operator can inspect what was deployed for a version.
func writeBindings(ruleFolderDir, version string, bs *rulebase.BindingSet) error {
	dir := fmt.Sprintf("%s.%s", ruleFolderDir, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("deploy: create rule folder %s: %w", dir, err)
	}

	path := filepath.Join(dir, "Service.ruleml")
	existing, err := readOrInitRulebase(path)
	if err != nil {
		return err
	}

	if strings.Contains(existing, bindingsMarkerBegin) {
		return nil // already appended for this version; once-only
	}

	fragment, err := marshalBindingsFragment(bs)
	if err != nil {
		return fmt.Errorf("deploy: marshal bindings: %w", err)
	}

	idx := strings.LastIndex(existing, rulebaseClose)
	if idx == -1 {
		return fmt.Errorf("deploy: %s has no closing %s to append before", path, rulebaseClose)
	}
	updated := existing[:idx] + fragment + existing[idx:]

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("deploy: write %s: %w", path, err)
	}
	return nil
}

// readOrInitRulebase returns path's contents, creating a minimal
// <Rulebase></Rulebase> document if the file does not yet exist.
func readOrInitRulebase(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("deploy: read %s: %w", path, err)
	}
	return "<Rulebase>\n" + rulebaseClose + "\n", nil
}

// marshalBindingsFragment renders bs's bindings as an XML fragment wrapped
// in the once-only marker comment, each on its own line.
func marshalBindingsFragment(bs *rulebase.BindingSet) (string, error) {
	var b strings.Builder
	b.WriteString(bindingsMarkerBegin)
	b.WriteByte('\n')
	for _, binding := range bs.All() {
		bx := bindingXML{
			PlaceID: binding.PlaceID, Service: binding.Service, Operation: binding.Operation,
			ReturnAttr: binding.ReturnAttr, Inputs: binding.Inputs,
		}
		out, err := xml.MarshalIndent(bx, "", "  ")
		if err != nil {
			return "", err
		}
		b.Write(out)
		b.WriteByte('\n')
	}
	b.WriteString(bindingsMarkerEnd)
	b.WriteByte('\n')
	return b.String(), nil
}
