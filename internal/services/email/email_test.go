package email

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/marketing-insights-api/internal/config"
)

func TestBuildMessage_WithAttachment(t *testing.T) {
	data := bytes.Repeat([]byte("docx-bytes"), 40)
	raw := buildMessage("Insights", "noreply@example.com", "team@example.com", "Marketing Analysis – 2025-03", "<p>hi</p>",
		[]Attachment{{Filename: "Analysis_2025-03_20250402_090507.docx", ContentType: "application/octet-stream", Data: data}})

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "team@example.com", msg.Header.Get("To"))

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Marketing Analysis – 2025-03", subject)

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)

	mr := multipart.NewReader(msg.Body, params["boundary"])
	htmlPart, err := mr.NextPart()
	require.NoError(t, err)
	body, _ := io.ReadAll(htmlPart)
	assert.Contains(t, string(body), "<p>hi</p>")

	attPart, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "Analysis_2025-03_20250402_090507.docx", attPart.FileName())
	encoded, _ := io.ReadAll(attPart)
	for _, line := range strings.Split(strings.TrimSpace(string(encoded)), "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
	}

	_, err = mr.NextPart()
	assert.Equal(t, io.EOF, err)
}

func TestSendTranscript_Validation(t *testing.T) {
	err := NewService(config.SMTPConfig{}).SendTranscript("a@b.c", "Marketing Analysis – 2025-03", TranscriptBody("2025-03"), Attachment{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	svc := NewService(config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "noreply@example.com"})
	assert.True(t, svc.IsEnabled())
	err = svc.SendTranscript("not an address", "Marketing Analysis – 2025-03", TranscriptBody("2025-03"), Attachment{})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestLoginAuth(t *testing.T) {
	a := LoginAuth("user", "pass")
	proto, initial, err := a.Start(&smtp.ServerInfo{Name: "smtp.example.com", TLS: true})
	require.NoError(t, err)
	assert.Equal(t, "LOGIN", proto)
	assert.Equal(t, "user", string(initial))

	resp, err := a.Next([]byte("Password:"), true)
	require.NoError(t, err)
	assert.Equal(t, "pass", string(resp))

	_, err = a.Next([]byte("Other:"), true)
	assert.Error(t, err)
}

func TestTranscriptBody_EscapesMonth(t *testing.T) {
	assert.Contains(t, TranscriptBody("2025-03"), "2025-03")
	assert.NotContains(t, TranscriptBody("<b>"), "<b>")
}
