package rest_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eroomgame/eroom-server/api/rest"
	"github.com/eroomgame/eroom-server/config"
	mw "github.com/eroomgame/eroom-server/middleware"
	"github.com/eroomgame/eroom-server/model"
	"github.com/eroomgame/eroom-server/profile"
	"github.com/eroomgame/eroom-server/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testSecurity() config.SecurityConfig {
	return config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: 72 * time.Hour}
}

func newAuthRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	sec := testSecurity()
	profiles := profile.NewService(db, zap.NewNop())
	soc := config.SocialConfig{SignupBonusCredits: 100}

	h := rest.NewAuthHandler(db, profiles, c, sec, soc, zap.NewNop())
	r := gin.New()
	r.POST("/api/auth/register", h.Register)
	r.POST("/api/auth/login", h.Login)
	r.POST("/api/auth/federated", h.LoginFederated)
	r.POST("/api/auth/password-reset", h.RequestPasswordReset)
	r.POST("/api/auth/logout", mw.Auth(sec, c), h.Logout)
	r.POST("/api/auth/refresh", mw.Auth(sec, c), h.Refresh)
	return r, db
}

func postJSON(r *gin.Engine, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func getJSON(r *gin.Engine, path string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doJSON(r *gin.Engine, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func registerUser(t *testing.T, r *gin.Engine, username, email string) (userID int64, token string) {
	t.Helper()
	w := postJSON(r, "/api/auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": "pass12345",
	})
	require.Equal(t, http.StatusOK, w.Code, "register %s: %s", username, w.Body.String())
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return int64(resp["user_id"].(float64)), resp["token"].(string)
}

// ---- Register ----

func TestRegister_Success(t *testing.T) {
	r, _ := newAuthRouter(t)

	w := postJSON(r, "/api/auth/register", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "pass12345",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
	assert.NotZero(t, resp["user_id"])
	assert.Equal(t, "alice", resp["username"])
}

func TestRegister_DuplicateUsername(t *testing.T) {
	r, _ := newAuthRouter(t)
	registerUser(t, r, "bob", "bob@example.com")

	w := postJSON(r, "/api/auth/register", map[string]string{
		"username": "bob",
		"email":    "bob2@example.com",
		"password": "pass12345",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	r, _ := newAuthRouter(t)
	registerUser(t, r, "carol", "carol@example.com")

	w := postJSON(r, "/api/auth/register", map[string]string{
		"username": "carol2",
		"email":    "carol@example.com",
		"password": "pass12345",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRegister_InvalidUsername(t *testing.T) {
	r, _ := newAuthRouter(t)

	w := postJSON(r, "/api/auth/register", map[string]string{
		"username": "has space",
		"email":    "space@example.com",
		"password": "pass12345",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_ShortPassword(t *testing.T) {
	r, _ := newAuthRouter(t)

	w := postJSON(r, "/api/auth/register", map[string]string{
		"username": "shorty",
		"email":    "shorty@example.com",
		"password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ---- Login ----

func TestLogin_Success(t *testing.T) {
	r, _ := newAuthRouter(t)
	registerUser(t, r, "dave", "dave@example.com")

	w := postJSON(r, "/api/auth/login", map[string]string{
		"email":    "dave@example.com",
		"password": "pass12345",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
}

func TestLogin_WrongPassword(t *testing.T) {
	r, _ := newAuthRouter(t)
	registerUser(t, r, "erin", "erin@example.com")

	w := postJSON(r, "/api/auth/login", map[string]string{
		"email":    "erin@example.com",
		"password": "wrongpass",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_UnknownEmail(t *testing.T) {
	r, _ := newAuthRouter(t)

	w := postJSON(r, "/api/auth/login", map[string]string{
		"email":    "nobody@example.com",
		"password": "pass12345",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_FederatedAccountHasNoPassword(t *testing.T) {
	r, _ := newAuthRouter(t)

	// Provision via the federated flow, then try a password login.
	w := postJSON(r, "/api/auth/federated", map[string]string{
		"provider":     "google.com",
		"email":        "fed@example.com",
		"display_name": "Fed User",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w2 := postJSON(r, "/api/auth/login", map[string]string{
		"email":    "fed@example.com",
		"password": "pass12345",
	})
	assert.Equal(t, http.StatusUnauthorized, w2.Code)
}

func TestLogin_BannedAccount(t *testing.T) {
	r, db := newAuthRouter(t)
	registerUser(t, r, "badguy", "badguy@example.com")

	db.Model(&model.User{}).Where("username = ?", "badguy").
		Update("status", model.StatusBanned)

	w := postJSON(r, "/api/auth/login", map[string]string{
		"email":    "badguy@example.com",
		"password": "pass12345",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// ---- Federated sign-in ----

func TestFederated_FirstSignInProvisions(t *testing.T) {
	r, db := newAuthRouter(t)

	w := postJSON(r, "/api/auth/federated", map[string]string{
		"provider":     "google.com",
		"email":        "taro.yamada@example.com",
		"display_name": "Taro Yamada",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])

	var u model.User
	require.NoError(t, db.Where("email = ?", "taro.yamada@example.com").First(&u).Error)
	assert.Equal(t, int64(100), u.Credits)
}

func TestFederated_SecondSignInReusesAccount(t *testing.T) {
	r, db := newAuthRouter(t)

	body := map[string]string{"provider": "google.com", "email": "repeat@example.com"}
	w1 := postJSON(r, "/api/auth/federated", body)
	require.Equal(t, http.StatusCreated, w1.Code)

	w2 := postJSON(r, "/api/auth/federated", body)
	assert.Equal(t, http.StatusOK, w2.Code)

	var count int64
	db.Model(&model.User{}).Where("email = ?", "repeat@example.com").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestFederated_ProviderErrorCode(t *testing.T) {
	r, _ := newAuthRouter(t)

	w := postJSON(r, "/api/auth/federated", map[string]string{
		"provider":   "google.com",
		"error_code": "auth/user-not-found",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user_not_found", resp["kind"])
	assert.NotEmpty(t, resp["error"])
}

func TestFederated_MissingEmail(t *testing.T) {
	r, _ := newAuthRouter(t)

	w := postJSON(r, "/api/auth/federated", map[string]string{"provider": "google.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ---- Password reset ----

func TestPasswordReset_DoesNotRevealRegistration(t *testing.T) {
	r, _ := newAuthRouter(t)
	registerUser(t, r, "resetme", "resetme@example.com")

	w1 := postJSON(r, "/api/auth/password-reset", map[string]string{"email": "resetme@example.com"})
	w2 := postJSON(r, "/api/auth/password-reset", map[string]string{"email": "ghost@example.com"})
	assert.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, w1.Body.String(), w2.Body.String())
}

// ---- Logout / Refresh ----

func TestLogout_InvalidatesSession(t *testing.T) {
	r, _ := newAuthRouter(t)
	_, token := registerUser(t, r, "frank", "frank@example.com")

	w := postJSON(r, "/api/auth/logout", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)

	// Session is gone, same token no longer passes the auth middleware.
	w2 := postJSON(r, "/api/auth/logout", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w2.Code)
}

func TestRefresh_RotatesToken(t *testing.T) {
	r, _ := newAuthRouter(t)
	_, token := registerUser(t, r, "grace", "grace@example.com")

	w := postJSON(r, "/api/auth/refresh", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	newToken := resp["token"].(string)
	require.NotEmpty(t, newToken)

	// Old token is revoked, new one works.
	w2 := postJSON(r, "/api/auth/refresh", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w2.Code)
	w3 := postJSON(r, "/api/auth/refresh", nil, "Authorization", "Bearer "+newToken)
	assert.Equal(t, http.StatusOK, w3.Code)
}

func TestRefresh_NoToken(t *testing.T) {
	r, _ := newAuthRouter(t)
	w := postJSON(r, "/api/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
