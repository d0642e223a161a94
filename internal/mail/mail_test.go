package mail

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestComposerMessages(t *testing.T) {
	c := Composer{BaseURL: "https://dir.example.com/", AppName: "Directory"}

	confirm := c.Confirmation("ada@example.com", "Ada", "tok123", 5*time.Minute)
	assert.Equal(t, KindConfirmation, confirm.Kind)
	assert.Contains(t, confirm.Body, "https://dir.example.com/confirm/tok123")
	assert.Contains(t, confirm.Body, "5 minutes")
	require.NoError(t, confirm.Validate())

	code := c.LoginCode("ada@example.com", "012345", 5*time.Minute)
	assert.Contains(t, code.Body, "012345")
	assert.Equal(t, KindLoginCode, code.Kind)

	reset := c.Reset("ada@example.com", "rst", 15*time.Minute)
	assert.Contains(t, reset.Body, "https://dir.example.com/password/reset/rst")
	assert.Contains(t, reset.Body, "15 minutes")
}

func TestMessageValidate(t *testing.T) {
	assert.ErrorIs(t, Message{To: "not-an-address", Subject: "s", Body: "b"}.Validate(), ErrInvalidMessage)
	assert.ErrorIs(t, Message{To: "a@example.com", Body: "b"}.Validate(), ErrInvalidMessage)
	assert.ErrorIs(t, Message{To: "a@example.com", Subject: "s"}.Validate(), ErrInvalidMessage)
	assert.NoError(t, Message{To: "a@example.com", Subject: "s", Body: "b"}.Validate())
}

func TestFormatMessageNormalizesLineEndings(t *testing.T) {
	raw := string(formatMessage("noreply@example.com", Message{
		To:      "a@example.com",
		Subject: "line\r\nBcc: evil@example.com",
		Body:    "one\ntwo\r\nthree",
	}, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	assert.Contains(t, raw, "Subject: line  Bcc: evil@example.com\r\n")
	assert.NotContains(t, raw, "\r\nBcc:")
	assert.True(t, strings.HasSuffix(raw, "one\r\ntwo\r\nthree"))
}

func TestLogSender(t *testing.T) {
	s := NewLogSender(testLogger())
	assert.NoError(t, s.Send(context.Background(), Message{To: "a@example.com", Subject: "s", Body: "b"}))
	assert.ErrorIs(t, s.Send(context.Background(), Message{}), ErrInvalidMessage)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSenderPublishesJSON(t *testing.T) {
	w := &fakeWriter{}
	s := &KafkaSender{writer: w, topic: "mail.outbox", logger: testLogger()}

	msg := Composer{BaseURL: "http://x"}.LoginCode("ada@example.com", "123456", time.Minute)
	require.NoError(t, s.Send(context.Background(), msg))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("ada@example.com"), w.msgs[0].Key)
	assert.Contains(t, string(w.msgs[0].Value), `"kind":"login_code"`)
	assert.Equal(t, "kind", w.msgs[0].Headers[0].Key)
}

func TestKafkaSenderPropagatesErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	s := &KafkaSender{writer: w, topic: "mail.outbox", logger: testLogger()}

	err := s.Send(context.Background(), Message{To: "a@example.com", Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail.outbox")
}

func TestBreakerSenderTripsOnTransportFailures(t *testing.T) {
	var calls int
	failing := SenderFunc(func(context.Context, Message) error {
		calls++
		return errors.New("smtp down")
	})
	cfg := DefaultBreakerConfig("test-trip")
	cfg.MinRequests = 3

	s := NewBreakerSender(failing, cfg, testLogger())
	msg := Message{To: "a@example.com", Subject: "s", Body: "b"}
	for i := 0; i < 3; i++ {
		require.Error(t, s.Send(context.Background(), msg))
	}
	assert.Equal(t, gobreaker.StateOpen, s.State())

	err := s.Send(context.Background(), msg)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, calls)
}

func TestBreakerSenderIgnoresInvalidMessages(t *testing.T) {
	cfg := DefaultBreakerConfig("test-invalid")
	cfg.MinRequests = 2

	s := NewBreakerSender(NewLogSender(testLogger()), cfg, testLogger())
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, s.Send(context.Background(), Message{}), ErrInvalidMessage)
	}
	assert.Equal(t, gobreaker.StateClosed, s.State())
}

// fakeSMTP accepts one plaintext session and records the DATA payload.
func fakeSMTP(t *testing.T) (addr string, received <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 localhost ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
			switch cmd {
			case "EHLO", "HELO":
				_ = tp.PrintfLine("250-localhost")
				_ = tp.PrintfLine("250 8BITMIME")
			case "MAIL", "RCPT", "RSET", "NOOP":
				_ = tp.PrintfLine("250 OK")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				data, err := readDot(tp.R)
				if err != nil {
					return
				}
				out <- data
				_ = tp.PrintfLine("250 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 unsupported")
			}
		}
	}()
	return ln.Addr().String(), out
}

func readDot(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		if line == ".\r\n" {
			return b.String(), nil
		}
		b.WriteString(line)
	}
}

func TestSMTPSenderDeliversOverPlainSession(t *testing.T) {
	addr, received := fakeSMTP(t)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	s := NewSMTPSender(SMTPConfig{Host: host, Port: p, From: "noreply@example.com", Timeout: 2 * time.Second})

	msg := Composer{BaseURL: "http://x"}.Reset("ada@example.com", "tok", 15*time.Minute)
	require.NoError(t, s.Send(context.Background(), msg))

	select {
	case data := <-received:
		assert.Contains(t, data, "To: ada@example.com")
		assert.Contains(t, data, "http://x/password/reset/tok")
	case <-time.After(2 * time.Second):
		t.Fatal("smtp server received nothing")
	}
}

func TestSMTPSenderDialFailure(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "noreply@example.com", Timeout: 200 * time.Millisecond})
	err := s.Send(context.Background(), Message{To: "a@example.com", Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp dial")
}
