package invoices

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/wolfman30/dental-clinic-platform/internal/appointments"
)

// Document is everything printed on an invoice.
type Document struct {
	ClinicName string
	Currency   string
	Invoice    *Invoice
	Details    *appointments.Details
	// GeneratedAt pins the PDF creation date; zero means now.
	GeneratedAt time.Time
}

// RenderPDF writes a printable invoice to w.
func RenderPDF(w io.Writer, doc Document) error {
	if doc.Invoice == nil {
		return fmt.Errorf("invoices: render pdf: %w", ErrNotFound)
	}
	inv := doc.Invoice

	pdf := gofpdf.New("P", "mm", "A4", "")
	if !doc.GeneratedAt.IsZero() {
		pdf.SetCreationDate(doc.GeneratedAt)
	}
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Invoice "+inv.AppointmentID, true)
	pdf.SetCreator(doc.ClinicName, true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 10, tr(doc.ClinicName), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 7, "Invoice", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	detail := func(label, value string) {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(45, 7, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(0, 7, tr(value), "", 1, "L", false, 0, "")
	}
	detail("Appointment", inv.AppointmentID)
	detail("Invoice date", inv.InvoiceDate)
	if d := doc.Details; d != nil {
		detail("Patient", d.Patient.Name)
		if d.Patient.Email != "" {
			detail("Email", d.Patient.Email)
		}
		detail("Dentist", d.Dentist.Name)
		detail("Visit", d.Appointment.Date+" "+d.Appointment.Time)
	}
	status := "UNPAID"
	if inv.PaymentStatus {
		status = "PAID"
	}
	detail("Status", status)
	pdf.Ln(6)

	pdf.SetFillColor(230, 236, 245)
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(130, 8, "Description", "1", 0, "L", true, 0, "")
	pdf.CellFormat(50, 8, "Amount ("+doc.Currency+")", "1", 1, "R", true, 0, "")
	pdf.SetFont("Arial", "", 11)
	for _, it := range inv.Items {
		pdf.CellFormat(130, 8, tr(it.Description), "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 8, it.Amount.StringFixed(2), "1", 1, "R", false, 0, "")
	}
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(130, 8, "Total", "1", 0, "R", false, 0, "")
	pdf.CellFormat(50, 8, inv.Total().StringFixed(2), "1", 1, "R", false, 0, "")

	if inv.PaymentStatus && inv.PaymentReference != "" {
		pdf.Ln(6)
		pdf.SetFont("Arial", "I", 9)
		pdf.CellFormat(0, 6, "Payment reference: "+inv.PaymentReference, "", 1, "L", false, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("invoices: render pdf: %w", err)
	}
	return nil
}

// RenderPDFBytes is RenderPDF into memory.
func RenderPDFBytes(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := RenderPDF(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
