package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Frame subjects. A frame is a text message holding the subject, then
// optionally a newline and a JSON body.
const (
	SubjSubscribeOrders       = "subscribe-orders"
	SubjUpdateSubscription    = "update-subscription"
	SubjRegisterPrinter       = "register-printer"
	SubjPrintJobStatus        = "print-job-status"
	SubjSubscriptionConfirmed = "subscription-confirmed"
	SubjOrderUpdate           = "order-update"
	SubjPrintJob              = "print-job"
	SubjError                 = "error"
)

var ErrNoSubject = errors.New("frame without subject")

// Frame is one decoded hub message
type Frame struct {
	Subj string
	Body []byte
}

// Decode unmarshals the frame body into v
func (f Frame) Decode(v interface{}) error {
	if len(f.Body) == 0 {
		return fmt.Errorf("%s frame without body", f.Subj)
	}
	if err := json.Unmarshal(f.Body, v); err != nil {
		return fmt.Errorf("invalid %s body: %w", f.Subj, err)
	}
	return nil
}

// ParseFrame splits a raw message into subject and body
func ParseFrame(raw []byte) (Frame, error) {
	head, body := raw, []byte(nil)
	if idx := bytes.IndexByte(raw, '\n'); idx >= 0 {
		head, body = raw[:idx], raw[idx+1:]
	}
	head = bytes.TrimSpace(head)
	if len(head) == 0 {
		return Frame{}, ErrNoSubject
	}
	return Frame{Subj: string(head), Body: copyBytes(bytes.TrimSpace(body))}, nil
}

// EncodeFrame renders subj and an optional body as a frame
func EncodeFrame(subj string, body interface{}) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(subj)
	if body == nil {
		return b.Bytes(), nil
	}
	b.WriteByte('\n')
	if raw, ok := body.(json.RawMessage); ok {
		b.Write(raw)
		return b.Bytes(), nil
	}
	if err := json.NewEncoder(&b).Encode(body); err != nil {
		return nil, fmt.Errorf("failed to encode %s body: %w", subj, err)
	}
	return bytes.TrimRight(b.Bytes(), "\n"), nil
}

func copyBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	res := make([]byte, len(b))
	copy(res, b)
	return res
}

// DateBody is the body of subscribe-orders, update-subscription and subscription-confirmed
type DateBody struct {
	Date string `json:"date"`
}

// PrinterBody is the body of register-printer
type PrinterBody struct {
	Name string `json:"name"`
}

// PrintJobStatus is reported by a printer and forwarded to dashboards
type PrintJobStatus struct {
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Printer string `json:"printer,omitempty"`
}

// PrintJob is relayed to a named printer
type PrintJob struct {
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorBody is the body of an error frame
type ErrorBody struct {
	Message string `json:"message"`
}
