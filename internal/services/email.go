package services

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

// Mailer sends one HTML email.
type Mailer interface {
	Send(to, subject, body string) error
}

type EmailService struct {
	host     string
	port     int
	user     string
	password string
	from     string
}

func NewEmailService(host string, port int, user, password, from string) *EmailService {
	return &EmailService{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		from:     from,
	}
}

func (s *EmailService) Send(to, subject, body string) error {
	if s.host == "" || s.user == "" || s.password == "" {
		return fmt.Errorf("SMTP credentials not fully configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(s.host, s.port, s.user, s.password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
