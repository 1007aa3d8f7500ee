package secrets_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/fusion/internal/adapters/secrets"
)

func TestEnvResolver(t *testing.T) {
	Convey("Given an env resolver", t, func() {
		ctx := context.Background()
		env := map[string]string{"FUSION_GENERATION_API_KEY": " sk-123 ", "BLANK": "  "}
		lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

		Convey("When the variable is set", func() {
			v, err := secrets.Require(ctx, secrets.EnvResolver{Name: "FUSION_GENERATION_API_KEY", Lookup: lookup})
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "sk-123")
		})

		Convey("When the variable is blank", func() {
			_, err := secrets.Require(ctx, secrets.EnvResolver{Name: "BLANK", Lookup: lookup})
			So(errors.Is(err, secrets.ErrMissingCredential), ShouldBeTrue)
		})

		Convey("When the variable is absent", func() {
			_, err := secrets.Require(ctx, secrets.EnvResolver{Name: "NOPE", Lookup: lookup})
			So(errors.Is(err, secrets.ErrMissingCredential), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "env NOPE")
		})
	})
}

func TestVaultResolver(t *testing.T) {
	Convey("Given a vault server with a KV v2 secret", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Vault-Token") != "root" {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Path {
			case "/v1/secret/data/fusion/llm":
				_, _ = w.Write([]byte(`{"data":{"data":{"api_key":"sk-vault"},"metadata":{"created_time":"2024-09-01T08:00:00Z","deletion_time":"","destroyed":false,"version":3}}}`))
			default:
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"errors":[]}`))
			}
		}))
		defer srv.Close()
		ctx := context.Background()

		Convey("When the secret exists", func() {
			r, err := secrets.NewVaultResolver(srv.URL, "root", "secret", "fusion/llm", "api_key")
			So(err, ShouldBeNil)
			v, err := secrets.Require(ctx, r)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "sk-vault")
		})

		Convey("When the key is missing from the secret", func() {
			r, _ := secrets.NewVaultResolver(srv.URL, "root", "secret", "fusion/llm", "token")
			_, err := secrets.Require(ctx, r)
			So(errors.Is(err, secrets.ErrMissingCredential), ShouldBeTrue)
		})

		Convey("When the secret path does not exist", func() {
			r, _ := secrets.NewVaultResolver(srv.URL, "root", "secret", "fusion/other", "api_key")
			_, err := secrets.Require(ctx, r)
			So(err, ShouldNotBeNil)
		})

		Convey("When the token is rejected", func() {
			r, _ := secrets.NewVaultResolver(srv.URL, "wrong", "secret", "fusion/llm", "api_key")
			_, err := secrets.Require(ctx, r)
			So(errors.Is(err, secrets.ErrResolve), ShouldBeTrue)
		})

		Convey("When the location is incomplete", func() {
			_, err := secrets.NewVaultResolver(srv.URL, "root", "secret", "", "api_key")
			So(errors.Is(err, secrets.ErrResolve), ShouldBeTrue)
		})
	})
}
