package notify

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "",
		FromEmail: "test@example.com",
	}, nil)

	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "test@example.com",
		FromName:  "",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "Dental Clinic" {
		t.Errorf("expected default from name 'Dental Clinic', got %q", sender.fromName)
	}
}

func TestNewSendGridSender_CustomFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "test@example.com",
		FromName:  "Custom Name",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "Custom Name" {
		t.Errorf("expected from name 'Custom Name', got %q", sender.fromName)
	}
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{
		client: nil,
	}

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recipient@example.com",
		Subject: "Test",
		Body:    "Test body",
	})

	if err == nil {
		t.Error("expected error when client is nil")
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	sender := NewStubEmailSender(nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recipient@example.com",
		Subject: "Test Subject",
		Body:    "Test body",
	})

	if err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}

type captureSendGrid struct {
	sent   *mail.SGMailV3
	status int
	err    error
}

func (c *captureSendGrid) SendWithContext(_ context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	c.sent = email
	if c.err != nil {
		return nil, c.err
	}
	return &rest.Response{StatusCode: c.status}, nil
}

func TestSendGridSender_Send_Attachments(t *testing.T) {
	client := &captureSendGrid{status: 202}
	sender := &SendGridSender{client: client, fromEmail: "desk@clinic.test", fromName: "Smile Dental", logger: logging.Default()}

	err := sender.Send(context.Background(), EmailMessage{
		To:      "asha@example.com",
		Subject: "Receipt",
		Body:    "Thanks",
		Attachments: []Attachment{{
			Filename:    "invoice-A1.pdf",
			ContentType: "application/pdf",
			Content:     []byte("%PDF-1.3"),
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.sent.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(client.sent.Attachments))
	}
	att := client.sent.Attachments[0]
	if att.Filename != "invoice-A1.pdf" || att.Type != "application/pdf" || att.Disposition != "attachment" {
		t.Errorf("unexpected attachment: %+v", att)
	}
	if att.Content != base64.StdEncoding.EncodeToString([]byte("%PDF-1.3")) {
		t.Errorf("attachment content not base64 encoded: %q", att.Content)
	}
}

func TestSendGridSender_Send_ErrorStatus(t *testing.T) {
	sender := &SendGridSender{client: &captureSendGrid{status: 401}, logger: logging.Default()}
	if err := sender.Send(context.Background(), EmailMessage{To: "a@example.com"}); err == nil {
		t.Error("expected error on 401 status")
	}
}

type captureSES struct {
	input *sesv2.SendEmailInput
}

func (c *captureSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	c.input = in
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender_Send_Simple(t *testing.T) {
	client := &captureSES{}
	sender := newSESSender(client, SESConfig{FromEmail: "desk@clinic.test"}, nil)

	if err := sender.Send(context.Background(), EmailMessage{To: "a@example.com", Subject: "Hi", Body: "Body"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.input.Content.Simple == nil || client.input.Content.Raw != nil {
		t.Fatal("expected simple content without attachments")
	}
	if got := aws.ToString(client.input.FromEmailAddress); got != "Dental Clinic <desk@clinic.test>" {
		t.Errorf("unexpected from address %q", got)
	}
}

func TestSESSender_Send_RawWithAttachment(t *testing.T) {
	client := &captureSES{}
	sender := newSESSender(client, SESConfig{FromEmail: "desk@clinic.test", FromName: "Smile Dental"}, nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:          "a@example.com",
		Subject:     "Receipt",
		Body:        "Attached",
		Attachments: []Attachment{{Filename: "invoice.pdf", ContentType: "application/pdf", Content: []byte("pdf-bytes")}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.input.Content.Raw == nil {
		t.Fatal("expected raw content when attachments are present")
	}
	raw := string(client.input.Content.Raw.Data)
	for _, want := range []string{
		"multipart/mixed",
		`attachment; filename="invoice.pdf"`,
		base64.StdEncoding.EncodeToString([]byte("pdf-bytes")),
		"Attached",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("raw message missing %q", want)
		}
	}
}

func TestEmailMessage_Fields(t *testing.T) {
	msg := EmailMessage{
		To:      "recipient@example.com",
		ToName:  "John Doe",
		Subject: "Test Subject",
		Body:    "Plain text body",
		HTML:    "<p>HTML body</p>",
	}

	if msg.To != "recipient@example.com" {
		t.Errorf("unexpected To: %s", msg.To)
	}
	if msg.ToName != "John Doe" {
		t.Errorf("unexpected ToName: %s", msg.ToName)
	}
	if msg.Subject != "Test Subject" {
		t.Errorf("unexpected Subject: %s", msg.Subject)
	}
	if msg.Body != "Plain text body" {
		t.Errorf("unexpected Body: %s", msg.Body)
	}
	if msg.HTML != "<p>HTML body</p>" {
		t.Errorf("unexpected HTML: %s", msg.HTML)
	}
}
