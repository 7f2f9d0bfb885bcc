package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/realm-idm/pkg/federation"
	"github.com/tendant/realm-idm/pkg/grant"
	"github.com/tendant/realm-idm/pkg/iam"
	"github.com/tendant/realm-idm/pkg/idp"
	"github.com/tendant/realm-idm/pkg/keypair"
	"github.com/tendant/realm-idm/pkg/rbac"
	"github.com/tendant/realm-idm/pkg/token"
)

func newTestHandler(t *testing.T) (http.Handler, iam.Realm) {
	t.Helper()
	ctx := context.Background()

	users := iam.NewInMemoryRepository()
	providers := idp.NewInMemoryRepository()
	store := rbac.NewInMemoryStore()
	tokens := token.NewService(keypair.NewService(t.TempDir()), store)
	fed := federation.NewManager(providers, users, store)
	engine := grant.NewEngine(users, providers, fed, tokens, idp.StandardFlowFactory{})

	realm, err := users.CreateRealm(ctx, "master", true)
	require.NoError(t, err)

	hash, err := iam.HashSecret("s3cret")
	require.NoError(t, err)
	_, err = users.CreateUser(ctx, iam.CreateUserParams{
		RealmID:      realm.ID,
		Name:         "jdoe",
		Active:       true,
		PasswordHash: hash,
	})
	require.NoError(t, err)

	return Handler(NewTokenHandler(engine)), realm
}

func postForm(t *testing.T, handler http.Handler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestTokenEndpointPasswordGrant(t *testing.T) {
	handler, realm := newTestHandler(t)

	recorder := postForm(t, handler, url.Values{
		"grant_type": {"password"},
		"username":   {"jdoe"},
		"password":   {"s3cret"},
		"realm_id":   {realm.ID.String()},
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	var response token.Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "Bearer", response.TokenType)
	assert.NotEmpty(t, response.AccessToken)
	assert.NotEmpty(t, response.RefreshToken)
	assert.Positive(t, response.ExpiresIn)
}

func TestTokenEndpointJSONBody(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := `{"grant_type":"password","username":"jdoe","password":"s3cret"}`
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestTokenEndpointBadCredentials(t *testing.T) {
	handler, realm := newTestHandler(t)

	recorder := postForm(t, handler, url.Values{
		"grant_type": {"password"},
		"username":   {"jdoe"},
		"password":   {"wrong"},
		"realm_id":   {realm.ID.String()},
	})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "invalid_client", response.Error)
}

func TestTokenEndpointUnknownGrantType(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := postForm(t, handler, url.Values{
		"grant_type": {"client_credentials"},
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "invalid_grant", response.Error)
}

func TestTokenEndpointMalformedRealmID(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := postForm(t, handler, url.Values{
		"grant_type": {"password"},
		"username":   {"jdoe"},
		"password":   {"s3cret"},
		"realm_id":   {"not-a-uuid"},
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "invalid_request", response.Error)
}
