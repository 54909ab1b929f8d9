package service

import (
	"html/template"

	"github.com/noah-isme/account-api/internal/models"
)

// Mail template names, also used as delivery tags.
const (
	TemplateVerification  = "email_verification"
	TemplatePasswordReset = "password_reset"
	TemplateWelcome       = "welcome"
)

type mailCopy struct {
	Hello       string
	Subject     string
	Title       string
	Description string
	ButtonText  string
	Expiration  string
	Footer      string
}

var mailMessages = map[models.Language]map[string]mailCopy{
	models.LanguageEN: {
		TemplateVerification: {
			Subject:     "Verify your email address",
			Title:       "Verify your email",
			Description: "Please click the button below to verify your email address:",
			ButtonText:  "Verify Email",
			Expiration:  "This link will expire in 24 hours.",
			Footer:      "If you did not create an account, please ignore this email.",
		},
		TemplatePasswordReset: {
			Subject:     "Password Reset Request",
			Title:       "Reset your password",
			Description: "You requested a password reset. Click the button below to reset your password:",
			ButtonText:  "Reset Password",
			Expiration:  "This link will expire in 10 minutes.",
			Footer:      "If you did not request this password reset, please ignore this email.",
		},
		TemplateWelcome: {
			Hello:       "Hi",
			Subject:     "Welcome to our platform!",
			Title:       "Welcome aboard!",
			Description: "Thank you for joining us. We're excited to have you on board!",
			ButtonText:  "Get Started",
			Footer:      "We're here to help if you have any questions.",
		},
	},
	models.LanguageVI: {
		TemplateVerification: {
			Subject:     "Xác minh địa chỉ email của bạn",
			Title:       "Xác minh email của bạn",
			Description: "Vui lòng nhấp vào nút bên dưới để xác minh địa chỉ email của bạn:",
			ButtonText:  "Xác minh Email",
			Expiration:  "Liên kết này sẽ hết hạn trong 24 giờ.",
			Footer:      "Nếu bạn không tạo tài khoản, vui lòng bỏ qua email này.",
		},
		TemplatePasswordReset: {
			Subject:     "Yêu cầu đặt lại mật khẩu",
			Title:       "Đặt lại mật khẩu của bạn",
			Description: "Bạn đã yêu cầu đặt lại mật khẩu. Nhấp vào nút bên dưới để đặt lại mật khẩu:",
			ButtonText:  "Đặt lại mật khẩu",
			Expiration:  "Liên kết này sẽ hết hạn trong 10 phút.",
			Footer:      "Nếu bạn không yêu cầu đặt lại mật khẩu này, vui lòng bỏ qua email này.",
		},
		TemplateWelcome: {
			Hello:       "Xin chào",
			Subject:     "Chào mừng đến với nền tảng của chúng tôi!",
			Title:       "Chào mừng bạn!",
			Description: "Cảm ơn bạn đã tham gia cùng chúng tôi. Chúng tôi rất vui khi có bạn!",
			ButtonText:  "Bắt đầu",
			Footer:      "Chúng tôi sẵn sàng hỗ trợ nếu bạn có bất kỳ câu hỏi nào.",
		},
	},
}

func copyFor(lang models.Language, name string) mailCopy {
	if msgs, ok := mailMessages[lang]; ok {
		return msgs[name]
	}
	return mailMessages[models.LanguageEN][name]
}

type mailView struct {
	mailCopy
	Lang        string
	Greeting    string
	ActionURL   string
	CompanyName string
	CompanyLogo string
}

var mailLayout = template.Must(template.New("mail").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="font-family:Arial,sans-serif;background:#f4f4f5;padding:24px">
<table role="presentation" width="100%" style="max-width:560px;margin:0 auto;background:#ffffff;border-radius:8px;padding:32px">
<tr><td>
{{if .CompanyLogo}}<img src="{{.CompanyLogo}}" alt="{{.CompanyName}}" height="40">{{else}}<strong>{{.CompanyName}}</strong>{{end}}
<h1 style="font-size:22px">{{.Title}}</h1>
{{if .Greeting}}<p>{{.Hello}} {{.Greeting}},</p>{{end}}
<p>{{.Description}}</p>
{{if .ActionURL}}<p><a href="{{.ActionURL}}" style="display:inline-block;background:#2563eb;color:#ffffff;padding:12px 20px;border-radius:6px;text-decoration:none">{{.ButtonText}}</a></p>
<p style="font-size:12px;color:#6b7280;word-break:break-all">{{.ActionURL}}</p>{{end}}
{{if .Expiration}}<p style="font-size:13px">{{.Expiration}}</p>{{end}}
<hr style="border:none;border-top:1px solid #e5e7eb">
<p style="font-size:12px;color:#6b7280">{{.Footer}}</p>
<p style="font-size:12px;color:#6b7280">&copy; {{.CompanyName}}</p>
</td></tr>
</table>
</body>
</html>`))
