package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/storybook-backend/internal/platform/ctxutil"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

func TestAuthServiceRoundTrip(t *testing.T) {
	as := NewAuthService(logger.Nop(), "s3cret", time.Hour)
	owner := uuid.New()
	tok, err := as.IssueToken(owner)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	ctx, err := as.SetContextFromToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("SetContextFromToken: %v", err)
	}
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.OwnerID != owner {
		t.Fatalf("owner: want=%s got=%+v", owner, rd)
	}
}

func TestAuthServiceRejectsBadTokens(t *testing.T) {
	as := NewAuthService(logger.Nop(), "s3cret", time.Hour)
	other := NewAuthService(logger.Nop(), "different", time.Hour)
	foreign, err := other.IssueToken(uuid.New())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	expiredSvc := NewAuthService(logger.Nop(), "s3cret", time.Minute).(*authService)
	expiredSvc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := expiredSvc.IssueToken(uuid.New())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "not-a-uuid"},
	}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := map[string]string{
		"empty":       "",
		"garbage":     "abc.def.ghi",
		"wrong key":   foreign,
		"expired":     expired,
		"none alg":    noneAlg,
		"bad subject": badSubject,
	}
	for name, tok := range cases {
		if _, err := as.SetContextFromToken(context.Background(), tok); err == nil {
			t.Fatalf("%s: want error", name)
		}
	}
	if _, err := as.IssueToken(uuid.Nil); err == nil {
		t.Fatalf("IssueToken(nil): want error")
	}
}
