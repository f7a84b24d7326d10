// Package mail はメール送信と確認メール本文の組み立てを提供する。
package mail

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// ConfirmationSubject は確認メールの件名。
const ConfirmationSubject = "Confirm your email"

// Message は送信する1通のメール。
type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

// Sender はメール送信のインターフェース。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ConfirmationBody は確認リンクを含むHTML本文を返す。
// リンクはHTMLエスケープしてシングルクォートの属性値に埋め込む。
func ConfirmationBody(callbackURL string) string {
	return fmt.Sprintf("Please confirm your account by <a href='%s'>clicking here</a>.", html.EscapeString(callbackURL))
}

// SMTPConfig はSMTPSenderの設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSender はSMTPサーバー経由でメールを送信する。
// サーバーがSTARTTLSに対応していればTLSに切り替え、Usernameが設定されていればPLAIN認証を行う。
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender はSMTPSenderを生成する。
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{cfg: cfg}
}

// Send はメールを1通送信する。接続から送信完了までctxのキャンセルが反映される。
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := newMessage(s.cfg.From, msg)
	if err != nil {
		return err
	}

	client, err := gomail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (s *SMTPSender) clientOptions() []gomail.Option {
	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTimeout(s.cfg.Timeout),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

// newMessage はHTML本文のメッセージを組み立てる。
// リンクをそのまま読めるよう本文は8bitで送る。
func newMessage(from string, msg Message) (*gomail.Msg, error) {
	m := gomail.NewMsg(gomail.WithEncoding(gomail.NoEncoding))
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", from, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient address %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetBodyString(gomail.TypeTextHTML, msg.HTMLBody)
	return m, nil
}

// LogSender は送信せずにログへ出力する。開発環境でSMTP_HOSTが未設定の場合に使用する。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderを生成する。
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send はメール内容をログに出力する。
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "email (not sent)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("html_body", msg.HTMLBody),
	)
	return nil
}

// compile-time interface check
var (
	_ Sender = (*SMTPSender)(nil)
	_ Sender = (*LogSender)(nil)
)
