package domain

// NotificationType — канал уведомления.
type NotificationType string

const (
	NotificationEmail NotificationType = "email"
	NotificationSMS   NotificationType = "sms"
)

// Notification — уведомление, которое шаг notification ставит в очередь доставки.
type Notification struct {
	ID          string                  `json:"id"`
	Type        NotificationType        `json:"type"`
	Email       *EmailMessage           `json:"email,omitempty"`
	SMS         *SMSMessage             `json:"sms,omitempty"`
	Credentials NotificationCredentials `json:"credentials"`
}

// EmailMessage — письмо.
type EmailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// SMSMessage — SMS сообщение.
type SMSMessage struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// NotificationCredentials — учётные данные канала доставки.
type NotificationCredentials struct {
	Email  *EmailCredentials  `json:"email,omitempty"`
	Twilio *TwilioCredentials `json:"twilio,omitempty"`
}

// EmailCredentials — SMTP учётные данные.
type EmailCredentials struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

// TwilioCredentials — учётные данные Twilio.
type TwilioCredentials struct {
	AccountSID string `json:"accountSid"`
	AuthToken  string `json:"authToken"`
	From       string `json:"from"`
}
