// Package registration はユーザー登録（IdentityUser作成、ローカルプロフィール作成、
// 確認メール送信、登録後のリダイレクト）を組み立てる。
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mapapp/internal/identity"
	"github.com/hitoshi/mapapp/internal/mail"
	"github.com/hitoshi/mapapp/internal/metrics"
	"github.com/hitoshi/mapapp/internal/model"
	"github.com/hitoshi/mapapp/internal/profile"
)

// 登録後の遷移先。
const (
	RegisterConfirmationPath = "/Identity/Account/RegisterConfirmation"
	LoginPath                = "/Identity/Account/Login"
)

// IdentityProvider は登録処理が必要とするIDプロバイダーの機能。
type IdentityProvider interface {
	CreateUser(ctx context.Context, email, password string) (*model.IdentityUser, error)
	GenerateEmailConfirmationToken(ctx context.Context, userID string) (string, error)
	DeleteUser(ctx context.Context, userID string) error
	SignIn(ctx context.Context, userID string, persistent bool) (*model.Session, error)
	RequireConfirmedAccount() bool

	FindByExternalLogin(ctx context.Context, info *identity.ExternalLoginInfo) (*model.IdentityUser, error)
	CreateExternalUser(ctx context.Context, info *identity.ExternalLoginInfo) (*model.IdentityUser, error)
}

// ProfileStore はローカルプロフィールの永続化機能。
type ProfileStore interface {
	Create(ctx context.Context, p *model.MapAppUser) error
	CreateWithOutboundEmail(ctx context.Context, p *model.MapAppUser, email *model.OutboundEmail) error
	FindByIdentityID(ctx context.Context, identityID string) (*model.MapAppUser, error)
}

// Result は登録処理の結果。
// FieldErrorsまたはFormErrorsが空でない場合はフォームを再表示する。
type Result struct {
	FieldErrors FieldErrors
	FormErrors  []string
	RedirectURL string
	Session     *model.Session // サインインした場合のみ非nil
	UserID      string
}

// Succeeded は登録が完了しリダイレクトすべきかを返す。
func (r *Result) Succeeded() bool {
	return r.RedirectURL != ""
}

// Service は登録処理を提供する。
type Service struct {
	idp      IdentityProvider
	profiles ProfileStore
	metrics  metrics.MetricsCollector
	baseURL  string
}

// NewService はServiceを生成する。
func NewService(idp IdentityProvider, profiles ProfileStore, mc metrics.MetricsCollector, baseURL string) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		idp:      idp,
		profiles: profiles,
		metrics:  mc,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// Register は登録フォームの送信を処理する。
//
// IdentityUserの作成後、プロフィールと確認メール（outbox行）を同一トランザクションで保存する。
// この保存に失敗した場合はIdentityUserを削除して巻き戻し、汎用エラーを返す。
// 戻り値のerrorは巻き戻しにも失敗した場合など、フォーム再表示で扱えない障害に限る。
func (s *Service) Register(ctx context.Context, in Input, returnURL string) (*Result, error) {
	returnURL = LocalReturnURL(returnURL)

	if fe := in.Validate(); len(fe) > 0 {
		s.metrics.RecordRegistration(metrics.RegistrationRejected)
		return &Result{FieldErrors: fe}, nil
	}

	email := strings.TrimSpace(in.Email)
	user, err := s.idp.CreateUser(ctx, email, in.Password)
	if err != nil {
		var idErrs identity.Errors
		if errors.As(err, &idErrs) {
			s.metrics.RecordRegistration(metrics.RegistrationRejected)
			res := &Result{}
			for _, e := range idErrs {
				res.FormErrors = append(res.FormErrors, e.Description)
			}
			return res, nil
		}
		return nil, fmt.Errorf("failed to create identity user: %w", err)
	}

	slog.InfoContext(ctx, "user created a new account with password", slog.String("user_id", user.ID))

	if err := s.persistProfileAndConfirmation(ctx, user, in, returnURL); err != nil {
		slog.ErrorContext(ctx, "registration failed after identity user was created; compensating",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		if delErr := s.idp.DeleteUser(ctx, user.ID); delErr != nil {
			return nil, fmt.Errorf("failed to compensate registration for user %s: %w", user.ID, errors.Join(err, delErr))
		}
		s.metrics.RecordRegistration(metrics.RegistrationCompensated)
		return &Result{FormErrors: []string{model.NewRegistrationFailedError().Message}}, nil
	}

	s.metrics.RecordRegistration(metrics.RegistrationSucceeded)

	if s.idp.RequireConfirmedAccount() {
		q := url.Values{"email": {email}, "returnUrl": {returnURL}}
		return &Result{RedirectURL: RegisterConfirmationPath + "?" + q.Encode(), UserID: user.ID}, nil
	}

	session, err := s.idp.SignIn(ctx, user.ID, false)
	if err != nil {
		// 登録自体は完了しているため、ログイン画面へ誘導する
		slog.ErrorContext(ctx, "sign-in after registration failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		q := url.Values{"returnUrl": {returnURL}}
		return &Result{RedirectURL: LoginPath + "?" + q.Encode(), UserID: user.ID}, nil
	}
	return &Result{RedirectURL: returnURL, Session: session, UserID: user.ID}, nil
}

// persistProfileAndConfirmation はトークンを発行し、プロフィールと確認メールをまとめて保存する。
func (s *Service) persistProfileAndConfirmation(ctx context.Context, user *model.IdentityUser, in Input, returnURL string) error {
	token, err := s.idp.GenerateEmailConfirmationToken(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to generate confirmation token: %w", err)
	}
	link := ConfirmationLink(s.baseURL, user.ID, token, returnURL)

	now := time.Now()
	p := &model.MapAppUser{
		AspnetIdentityID: user.ID,
		FirstName:        strings.TrimSpace(in.FirstName),
		LastName:         strings.TrimSpace(in.LastName),
		CreatedAt:        now,
	}
	msg := &model.OutboundEmail{
		ID:            uuid.New().String(),
		Recipient:     user.Email,
		Subject:       mail.ConfirmationSubject,
		HTMLBody:      mail.ConfirmationBody(link),
		DedupeKey:     "email-confirmation:" + user.ID,
		Status:        model.EmailStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if err := s.profiles.CreateWithOutboundEmail(ctx, p, msg); err != nil {
		return fmt.Errorf("failed to save profile and confirmation email: %w", err)
	}
	return nil
}

// CompleteExternalLogin は外部ログインのコールバックを処理し、セッションを発行する。
// 初回の場合はIdentityUser、外部ログイン、プロフィールを作成する。
func (s *Service) CompleteExternalLogin(ctx context.Context, info *identity.ExternalLoginInfo) (*model.Session, error) {
	user, err := s.idp.FindByExternalLogin(ctx, info)
	if err != nil {
		return nil, err
	}

	created := false
	if user == nil {
		user, err = s.idp.CreateExternalUser(ctx, info)
		if err != nil {
			return nil, err
		}
		created = true
	}

	existing, err := s.profiles.FindByIdentityID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	if existing == nil {
		first, last := info.GivenName, info.FamilyName
		if first == "" && last == "" {
			first, last = profile.SplitName(info.Name)
		}
		p := &model.MapAppUser{AspnetIdentityID: user.ID, FirstName: first, LastName: last, CreatedAt: time.Now()}
		if err := s.profiles.Create(ctx, p); err != nil {
			if created {
				if delErr := s.idp.DeleteUser(ctx, user.ID); delErr != nil {
					return nil, fmt.Errorf("failed to compensate external registration: %w", errors.Join(err, delErr))
				}
				s.metrics.RecordRegistration(metrics.RegistrationCompensated)
			}
			return nil, fmt.Errorf("failed to create profile: %w", err)
		}
	}
	if created {
		s.metrics.RecordRegistration(metrics.RegistrationSucceeded)
	}

	return s.idp.SignIn(ctx, user.ID, false)
}
