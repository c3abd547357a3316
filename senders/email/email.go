package email

import (
	_ "embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/fiffu/regwatch/lib/models"
)

var (
	//go:embed change.html
	changeHTML     string
	changeTemplate = template.Must(template.New("change.html").Parse(changeHTML))
)

func mustFillTemplate(tmpl *template.Template, values any) string {
	buf := new(strings.Builder)
	err := tmpl.Execute(buf, values)
	if err != nil {
		return ""
	}
	return buf.String()
}

type ChangeEmailFormat struct {
	Change *models.Change
}

func (ef *ChangeEmailFormat) Subject() string {
	c := ef.Change
	switch c.ChangeType {
	case models.ChangeTypeNew:
		return fmt.Sprintf("Regwatch: new server %s", c.ServerName)
	case models.ChangeTypeVersionBump:
		return fmt.Sprintf("Regwatch: %s %s -> %s", c.ServerName, c.PreviousVersion, c.NewVersion)
	case models.ChangeTypeRemoved:
		return fmt.Sprintf("Regwatch: server %s removed", c.ServerName)
	default:
		return fmt.Sprintf("Regwatch: update on %s", c.ServerName)
	}
}

func (ef *ChangeEmailFormat) Body() string {
	return mustFillTemplate(changeTemplate, ef)
}
