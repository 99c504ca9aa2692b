package notifications

import (
	"bytes"
	htmltemplate "html/template"
	texttemplate "text/template"
)

const verificationSubject = "Email Verification - Movie Review Platform"

var verificationHTML = htmltemplate.Must(htmltemplate.New("verification.html").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #333;">Welcome, {{.Name}}!</h2>
  <p style="color: #666; font-size: 16px;">
    Thank you for signing up. Please verify your email address to activate your account.
  </p>
  <div style="margin: 30px 0; text-align: center;">
    <a href="{{.Link}}" style="background-color: #007bff; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; font-size: 16px; display: inline-block;">Verify Email</a>
  </div>
  <p style="color: #999; font-size: 14px;">Or copy and paste this link in your browser:</p>
  <p style="color: #007bff; word-break: break-all; font-size: 14px;">{{.Link}}</p>
  <p style="color: #999; font-size: 12px; margin-top: 40px; border-top: 1px solid #eee; padding-top: 20px;">
    This link will expire in 24 hours.<br/>
    If you didn't sign up for this account, you can safely ignore this email.
  </p>
</div>`))

var verificationText = texttemplate.Must(texttemplate.New("verification.txt").Parse(`Welcome, {{.Name}}!

Thank you for signing up. Please verify your email address to activate your account:

{{.Link}}

This link will expire in 24 hours.
If you didn't sign up for this account, you can safely ignore this email.
`))

type renderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

func renderVerificationEmail(in VerificationEmailInput) (renderedEmail, error) {
	var html, text bytes.Buffer

	if err := verificationHTML.Execute(&html, in); err != nil {
		return renderedEmail{}, err
	}
	if err := verificationText.Execute(&text, in); err != nil {
		return renderedEmail{}, err
	}

	return renderedEmail{
		Subject: verificationSubject,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
