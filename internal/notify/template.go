package notify

import (
	"fmt"
	"html/template"
	"strings"
)

type notificationTemplate struct {
	subject *template.Template
	body    *template.Template
}

// TemplateRenderer renders notification subjects and bodies from the
// registered template catalogue. Template ids follow the upstream naming
// (<event>_<channel>_<locale>); only the French catalogue ships today.
type TemplateRenderer struct {
	templates map[string]notificationTemplate
}

// NewTemplateRenderer builds the renderer with the built-in catalogue.
func NewTemplateRenderer() (*TemplateRenderer, error) {
	r := &TemplateRenderer{templates: make(map[string]notificationTemplate)}
	for id, def := range builtinTemplates {
		subject, err := template.New(id + ":subject").Parse(def.subject)
		if err != nil {
			return nil, fmt.Errorf("parse subject template %s: %w", id, err)
		}
		body, err := template.New(id + ":body").Parse(def.body)
		if err != nil {
			return nil, fmt.Errorf("parse body template %s: %w", id, err)
		}
		r.templates[id] = notificationTemplate{subject: subject, body: body}
	}
	return r, nil
}

// Render produces the subject and body for a template id. An unknown id is a
// permanent task failure, not a retryable one.
func (r *TemplateRenderer) Render(id string, data map[string]interface{}) (string, string, error) {
	tpl, ok := r.templates[id]
	if !ok {
		return "", "", fmt.Errorf("unknown template %q", id)
	}

	var subject, body strings.Builder
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render subject %s: %w", id, err)
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render body %s: %w", id, err)
	}
	return strings.TrimSpace(subject.String()), body.String(), nil
}

// Has reports whether a template id is registered.
func (r *TemplateRenderer) Has(id string) bool {
	_, ok := r.templates[id]
	return ok
}

type templateDef struct {
	subject string
	body    string
}

var builtinTemplates = map[string]templateDef{
	"absence_detected_email_fr": {
		subject: "Absence signalée : {{.student_name}}",
		body: `<p>Bonjour,</p>
<p>Une absence a été constatée pour <strong>{{.student_name}}</strong>{{if .course_name}} au cours de {{.course_name}}{{end}}{{if .date}} le {{.date}}{{end}}.</p>
<p>Vous pouvez soumettre un justificatif depuis votre espace parent.</p>
<p>Cordialement,<br>L'équipe PresencePro</p>`,
	},
	"absence_detected_sms_fr": {
		subject: "Absence",
		body:    `PresencePro : absence constatée pour {{.student_name}}{{if .date}} le {{.date}}{{end}}. Merci de fournir un justificatif.`,
	},
	"justification_submitted_email_fr": {
		subject: "Nouveau justificatif à examiner : {{.student_name}}",
		body: `<p>Bonjour,</p>
<p>Un justificatif d'absence a été soumis pour <strong>{{.student_name}}</strong>{{if .reason}} (motif : {{.reason}}){{end}}.</p>
<p>Merci de l'examiner depuis votre espace enseignant.</p>
<p>Cordialement,<br>L'équipe PresencePro</p>`,
	},
	"justification_approved_email_fr": {
		subject: "Justificatif approuvé : {{.student_name}}",
		body: `<p>Bonjour,</p>
<p>Le justificatif d'absence de <strong>{{.student_name}}</strong> a été approuvé.</p>
<p>Cordialement,<br>L'équipe PresencePro</p>`,
	},
	"justification_rejected_email_fr": {
		subject: "Justificatif refusé : {{.student_name}}",
		body: `<p>Bonjour,</p>
<p>Le justificatif d'absence de <strong>{{.student_name}}</strong> a été refusé{{if .reason}} (motif : {{.reason}}){{end}}.</p>
<p>Vous pouvez contacter l'établissement pour plus d'informations.</p>
<p>Cordialement,<br>L'équipe PresencePro</p>`,
	},
	"justification_approved_push_fr": {
		subject: "Justificatif approuvé",
		body:    `Votre justificatif d'absence a été approuvé.`,
	},
	"justification_rejected_push_fr": {
		subject: "Justificatif refusé",
		body:    `Votre justificatif d'absence a été refusé.`,
	},
	"message_received_push_fr": {
		subject: "Nouveau message",
		body:    `{{if .sender_name}}{{.sender_name}} vous a envoyé un message.{{else}}Vous avez reçu un nouveau message.{{end}}`,
	},
	"message_received_email_fr": {
		subject: "Nouveau message sur PresencePro",
		body: `<p>Bonjour,</p>
<p>{{if .sender_name}}<strong>{{.sender_name}}</strong> vous a envoyé un message{{else}}Vous avez reçu un nouveau message{{end}} sur PresencePro.</p>
<p>Connectez-vous pour le consulter.</p>`,
	},
	"daily_digest_email_fr": {
		subject: "Votre récapitulatif quotidien PresencePro",
		body: `<p>Bonjour,</p>
<p>Au cours des dernières 24 heures : {{.sent_count}} notification(s) envoyée(s){{if .failed_count}}, {{.failed_count}} en échec{{end}}.</p>
<p>Cordialement,<br>L'équipe PresencePro</p>`,
	},
	"weekly_report_email_fr": {
		subject: "Votre rapport hebdomadaire PresencePro",
		body: `<p>Bonjour,</p>
<p>Cette semaine : {{.sent_count}} notification(s) envoyée(s){{if .failed_count}}, {{.failed_count}} en échec{{end}}.</p>
<p>Cordialement,<br>L'équipe PresencePro</p>`,
	},
}
