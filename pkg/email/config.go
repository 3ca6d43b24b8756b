package email

type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"notifications@auditdesk.local"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@auditdesk.local"`
}

// Enabled reports whether Postmark credentials are present.
func (c Config) Enabled() bool {
	return c.PostmarkServerToken != "" && c.PostmarkAccountToken != ""
}
