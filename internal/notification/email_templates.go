package notification

import (
	"bytes"
	"html/template"
	"log"
)

// emailLayout is the shared HTML shell for notification emails.
const emailLayout = `
<!DOCTYPE html>
<html>
<head>
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
    <style>
        body { background-color: #f6f9fc; font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif; font-size: 16px; line-height: 1.5; margin: 0; padding: 0; }
        .container { display: block; margin: 0 auto !important; max-width: 580px; padding: 10px; width: 580px; }
        .main { background: #ffffff; border-radius: 8px; width: 100%; border: 1px solid #e1e9ee; }
        .wrapper { box-sizing: border-box; padding: 20px; }
        .footer { clear: both; margin-top: 10px; text-align: center; width: 100%; color: #8898aa; font-size: 12px; }
        h1 { font-size: 24px; font-weight: 700; margin: 0 0 20px 0; color: #32325d; text-align: center; }
        p { margin: 0 0 16px 0; color: #525f7f; white-space: pre-line; }
    </style>
</head>
<body>
    <div class="container">
        <div class="main">
            <div class="wrapper">
                <h1>{{.Title}}</h1>
                <p>{{.Message}}</p>
            </div>
        </div>
        <div class="footer">
            <p>You are receiving this because of your notification preferences. Manage them in your account settings.</p>
        </div>
    </div>
</body>
</html>`

var emailTmpl = template.Must(template.New("email").Parse(emailLayout))

// emailHTML wraps a rendered notification in the email shell. On template
// failure the plain message is returned so the email still goes out.
func emailHTML(title, message string) string {
	var buf bytes.Buffer
	err := emailTmpl.Execute(&buf, struct {
		Title   string
		Message string
	}{Title: title, Message: message})
	if err != nil {
		log.Printf("Failed to render email layout: %v", err)
		return message
	}
	return buf.String()
}
