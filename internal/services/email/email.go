package email

import (
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"log"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/user/marketing-insights-api/internal/config"
)

// ErrNotConfigured - SMTP не настроен
var ErrNotConfigured = errors.New("SMTP не настроен")

// ErrInvalidAddress - некорректный адрес получателя
var ErrInvalidAddress = errors.New("некорректный адрес получателя")

// loginAuth реализует SMTP AUTH LOGIN (не поддерживается стандартной библиотекой Go)
type loginAuth struct {
	username, password string
}

func LoginAuth(username, password string) smtp.Auth {
	return &loginAuth{username, password}
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", []byte(a.username), nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		switch strings.ToLower(string(fromServer)) {
		case "username:", "login:":
			return []byte(a.username), nil
		case "password:":
			return []byte(a.password), nil
		default:
			return nil, errors.New("неизвестный запрос SMTP LOGIN: " + string(fromServer))
		}
	}
	return nil, nil
}

// Attachment - вложение к письму
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Service - сервис отправки выгрузок по email
type Service struct {
	cfg config.SMTPConfig
}

// NewService создаёт новый email-сервис
func NewService(cfg config.SMTPConfig) *Service {
	return &Service{cfg: cfg}
}

// IsEnabled проверяет, настроен ли SMTP
func (s *Service) IsEnabled() bool {
	return s.cfg.Host != "" && s.cfg.From != ""
}

// SendTranscript отправляет выгрузку анализа вложением
func (s *Service) SendTranscript(to, subject, htmlBody string, attachment Attachment) error {
	if !s.IsEnabled() {
		return ErrNotConfigured
	}
	addr, err := mail.ParseAddress(to)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return s.sendWithAttachments(addr.Address, subject, htmlBody, attachment)
}

// TranscriptBody - текст письма с выгрузкой
func TranscriptBody(monthKey string) string {
	return fmt.Sprintf("<p>Attached is the marketing analysis transcript for %s.</p>", html.EscapeString(monthKey))
}

// sendWithAttachments отправляет письмо с вложениями
func (s *Service) sendWithAttachments(to, subject, htmlBody string, attachments ...Attachment) error {
	client, err := s.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	if s.cfg.Username != "" {
		auth := LoginAuth(s.cfg.Username, s.cfg.Password)
		if err := client.Auth(auth); err != nil {
			log.Printf("[Email] LOGIN auth не удался, пробуем PLAIN: %v", err)
			// Фоллбэк на PLAIN
			plainAuth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
			if err := client.Auth(plainAuth); err != nil {
				return fmt.Errorf("ошибка авторизации SMTP: %w", err)
			}
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("ошибка MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("ошибка RCPT TO: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("ошибка DATA: %w", err)
	}
	msg := buildMessage(s.cfg.FromName, s.cfg.From, to, subject, htmlBody, attachments)
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("ошибка записи данных: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("ошибка завершения DATA: %w", err)
	}
	if err := client.Quit(); err != nil {
		log.Printf("[Email] QUIT: %v", err)
	}

	log.Printf("[Email] Письмо отправлено на %s: %s", to, subject)
	return nil
}

// dial подключается к SMTP: TLS на 465, STARTTLS на остальных портах
func (s *Service) dial() (*smtp.Client, error) {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	var conn net.Conn
	var err error
	if s.cfg.Port == 465 {
		conn, err = tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, tlsConfig)
	} else {
		conn, err = net.DialTimeout("tcp", addr, 10*time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к SMTP: %w", err)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка SMTP клиента: %w", err)
	}

	if s.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, fmt.Errorf("ошибка STARTTLS: %w", err)
			}
		}
	}
	return client, nil
}

// buildMessage формирует MIME-сообщение
func buildMessage(fromName, from, to, subject, htmlBody string, attachments []Attachment) []byte {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	boundary := writer.Boundary()

	buf.Reset()
	buf.WriteString(fmt.Sprintf("From: %s\r\n", (&mail.Address{Name: fromName, Address: from}).String()))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	buf.WriteString(fmt.Sprintf("Subject: =?utf-8?B?%s?=\r\n", base64.StdEncoding.EncodeToString([]byte(subject))))
	buf.WriteString("MIME-Version: 1.0\r\n")

	if len(attachments) == 0 {
		buf.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(htmlBody)
		return buf.Bytes()
	}

	buf.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=\"%s\"\r\n", boundary))
	buf.WriteString("\r\n")

	// HTML-часть
	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(htmlBody)
	buf.WriteString("\r\n")

	// Вложения
	for _, att := range attachments {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Type", att.ContentType)
		header.Set("Content-Transfer-Encoding", "base64")
		header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", att.Filename))

		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		for _, k := range []string{"Content-Type", "Content-Transfer-Encoding", "Content-Disposition"} {
			buf.WriteString(fmt.Sprintf("%s: %s\r\n", k, header.Get(k)))
		}
		buf.WriteString("\r\n")
		writeBase64Lines(&buf, att.Data)
	}

	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return buf.Bytes()
}

// writeBase64Lines пишет base64 строками по 76 символов
func writeBase64Lines(buf *bytes.Buffer, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteString("\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")
}
