package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MarkoPoloResearchLab/mealcredits/internal/httpapi"
	"github.com/MarkoPoloResearchLab/mealcredits/internal/reporting"
	"github.com/MarkoPoloResearchLab/mealcredits/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/orders"
)

const (
	testSigningKey = "test-signing-key"
	testIssuer     = "mealcredits-auth"
	customerID     = "customer-1"
	otherID        = "customer-2"
	operatorID     = "operator-1"
)

type apiHarness struct {
	handler http.Handler
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type orderBody struct {
	Order struct {
		OrderID             string `json:"order_id"`
		Status              string `json:"status"`
		CreditCost          int64  `json:"credit_cost"`
		RefundTransactionID string `json:"refund_transaction_id"`
	} `json:"order"`
}

type balanceBody struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

func newAPIHarness(test *testing.T) *apiHarness {
	test.Helper()
	database := memstore.New()
	now := func() time.Time { return time.Date(2026, time.April, 1, 12, 0, 0, 0, time.UTC) }
	ledgerService, err := ledger.NewService(database.LedgerStore(), now)
	if err != nil {
		test.Fatalf("ledger service: %v", err)
	}
	orderService, err := orders.NewService(database.OrderStore(), ledgerService, now)
	if err != nil {
		test.Fatalf("order service: %v", err)
	}
	reports, err := reporting.NewService(database.Reporter())
	if err != nil {
		test.Fatalf("reporting service: %v", err)
	}
	authenticator, err := httpapi.NewAuthenticator([]byte(testSigningKey), testIssuer)
	if err != nil {
		test.Fatalf("authenticator: %v", err)
	}
	router, err := httpapi.NewRouter(httpapi.Config{
		AllowedOrigins: []string{"http://localhost:3000"},
		RetryPolicy:    ledger.DefaultRetryPolicy(),
	}, httpapi.Dependencies{
		Ledger:        ledgerService,
		Orders:        orderService,
		Reports:       reports,
		Authenticator: authenticator,
		Metrics: http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			_, _ = writer.Write([]byte("# metrics\n"))
		}),
	})
	if err != nil {
		test.Fatalf("router: %v", err)
	}
	return &apiHarness{handler: router}
}

func mustToken(test *testing.T, subject string, roles ...string) string {
	test.Helper()
	claims := httpapi.Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	if err != nil {
		test.Fatalf("sign token: %v", err)
	}
	return signed
}

func (harness *apiHarness) do(test *testing.T, method string, path string, token string, body any) *httptest.ResponseRecorder {
	test.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			test.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, request)
	return recorder
}

func mustDecode(test *testing.T, recorder *httptest.ResponseRecorder, target any) {
	test.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		test.Fatalf("decode %q: %v", recorder.Body.String(), err)
	}
}

func expectStatus(test *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	test.Helper()
	if recorder.Code != expected {
		test.Fatalf("expected status %d, got %d: %s", expected, recorder.Code, recorder.Body.String())
	}
}

func (harness *apiHarness) grant(test *testing.T, accountID string, amount int64) {
	test.Helper()
	admin := mustToken(test, operatorID, "admin")
	recorder := harness.do(test, http.MethodPost, "/api/admin/accounts/"+accountID+"/credits", admin, map[string]any{"amount": amount, "reason": "purchase"})
	expectStatus(test, recorder, http.StatusCreated)
}

func (harness *apiHarness) placeOrder(test *testing.T, accountID string, days ...string) *httptest.ResponseRecorder {
	test.Helper()
	items := map[string]any{}
	for _, day := range days {
		items[day] = map[string]any{"selected": true, "date": "2026-04-0" + day[len(day)-1:]}
	}
	return harness.do(test, http.MethodPost, "/api/accounts/"+accountID+"/orders", mustToken(test, accountID), map[string]any{
		"selected_items":   items,
		"delivery_address": "12 Market Street",
	})
}

func TestHealthzIsPublic(test *testing.T) {
	harness := newAPIHarness(test)
	recorder := harness.do(test, http.MethodGet, "/healthz", "", nil)
	expectStatus(test, recorder, http.StatusOK)

	recorder = harness.do(test, http.MethodGet, "/metrics", "", nil)
	expectStatus(test, recorder, http.StatusOK)
	if !strings.Contains(recorder.Body.String(), "# metrics") {
		test.Fatalf("expected metrics handler output, got %q", recorder.Body.String())
	}
}

func TestAuthentication(test *testing.T) {
	harness := newAPIHarness(test)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, httpapi.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   customerID,
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}).SignedString([]byte(testSigningKey))
	if err != nil {
		test.Fatalf("sign: %v", err)
	}
	foreignKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, httpapi.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   customerID,
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("another-key"))
	if err != nil {
		test.Fatalf("sign: %v", err)
	}
	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, httpapi.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   customerID,
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSigningKey))
	if err != nil {
		test.Fatalf("sign: %v", err)
	}

	testCases := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "expired", token: expired},
		{name: "foreign key", token: foreignKey},
		{name: "wrong issuer", token: wrongIssuer},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			recorder := harness.do(test, http.MethodGet, "/api/accounts/"+customerID+"/balance", testCase.token, nil)
			expectStatus(test, recorder, http.StatusUnauthorized)
		})
	}
}

func TestCustomerSeesOnlyOwnAccount(test *testing.T) {
	harness := newAPIHarness(test)
	harness.grant(test, customerID, 5)

	recorder := harness.do(test, http.MethodGet, "/api/accounts/"+customerID+"/balance", mustToken(test, customerID), nil)
	expectStatus(test, recorder, http.StatusOK)
	var balance balanceBody
	mustDecode(test, recorder, &balance)
	if balance.Balance != 5 || balance.AccountID != customerID {
		test.Fatalf("unexpected balance payload %+v", balance)
	}

	recorder = harness.do(test, http.MethodGet, "/api/accounts/"+customerID+"/balance", mustToken(test, otherID), nil)
	expectStatus(test, recorder, http.StatusForbidden)

	recorder = harness.do(test, http.MethodGet, "/api/accounts/"+customerID+"/balance", mustToken(test, operatorID, "admin"), nil)
	expectStatus(test, recorder, http.StatusOK)
}

func TestUnknownAccountReadsZero(test *testing.T) {
	harness := newAPIHarness(test)
	recorder := harness.do(test, http.MethodGet, "/api/accounts/"+otherID+"/balance", mustToken(test, otherID), nil)
	expectStatus(test, recorder, http.StatusOK)
	var balance balanceBody
	mustDecode(test, recorder, &balance)
	if balance.Balance != 0 {
		test.Fatalf("expected zero balance, got %d", balance.Balance)
	}
}

func TestPlaceOrderDebitsCredits(test *testing.T) {
	harness := newAPIHarness(test)
	harness.grant(test, customerID, 5)

	recorder := harness.placeOrder(test, customerID, "day1", "day2", "day3")
	expectStatus(test, recorder, http.StatusCreated)
	var placed orderBody
	mustDecode(test, recorder, &placed)
	if placed.Order.Status != "pending" || placed.Order.CreditCost != 3 {
		test.Fatalf("unexpected order %+v", placed.Order)
	}

	recorder = harness.do(test, http.MethodGet, "/api/accounts/"+customerID+"/balance", mustToken(test, customerID), nil)
	var balance balanceBody
	mustDecode(test, recorder, &balance)
	if balance.Balance != 2 {
		test.Fatalf("expected balance 2, got %d", balance.Balance)
	}

	recorder = harness.do(test, http.MethodGet, "/api/accounts/"+customerID+"/orders", mustToken(test, customerID), nil)
	expectStatus(test, recorder, http.StatusOK)
	var listed struct {
		Orders []struct {
			OrderID string `json:"order_id"`
		} `json:"orders"`
	}
	mustDecode(test, recorder, &listed)
	if len(listed.Orders) != 1 || listed.Orders[0].OrderID != placed.Order.OrderID {
		test.Fatalf("unexpected order list %+v", listed)
	}
}

func TestPlaceOrderInsufficientCredits(test *testing.T) {
	harness := newAPIHarness(test)
	harness.grant(test, customerID, 1)

	recorder := harness.placeOrder(test, customerID, "day1", "day2")
	expectStatus(test, recorder, http.StatusConflict)
	var body errorBody
	mustDecode(test, recorder, &body)
	if body.Error.Code != "insufficient_credits" {
		test.Fatalf("unexpected error code %q", body.Error.Code)
	}
	if body.Error.Message != "not enough credits, reduce selection or add credits" {
		test.Fatalf("unexpected message %q", body.Error.Message)
	}
}

func TestPlaceOrderValidation(test *testing.T) {
	harness := newAPIHarness(test)
	harness.grant(test, customerID, 5)

	recorder := harness.do(test, http.MethodPost, "/api/accounts/"+customerID+"/orders", mustToken(test, customerID), map[string]any{
		"selected_items":   map[string]any{},
		"delivery_address": "12 Market Street",
	})
	expectStatus(test, recorder, http.StatusBadRequest)
	var body errorBody
	mustDecode(test, recorder, &body)
	if body.Error.Code != "empty_selection" {
		test.Fatalf("unexpected error code %q", body.Error.Code)
	}
}

func TestAdminRoutesRequireRole(test *testing.T) {
	harness := newAPIHarness(test)
	recorder := harness.do(test, http.MethodPost, "/api/admin/accounts/"+customerID+"/credits", mustToken(test, customerID), map[string]any{"amount": 5})
	expectStatus(test, recorder, http.StatusForbidden)
}

func TestAdminDebitCannotOverdraw(test *testing.T) {
	harness := newAPIHarness(test)
	harness.grant(test, customerID, 2)
	admin := mustToken(test, operatorID, "admin")

	recorder := harness.do(test, http.MethodPost, "/api/admin/accounts/"+customerID+"/debits", admin, map[string]any{"amount": 3})
	expectStatus(test, recorder, http.StatusConflict)

	recorder = harness.do(test, http.MethodPost, "/api/admin/accounts/"+customerID+"/debits", admin, map[string]any{"amount": 0})
	expectStatus(test, recorder, http.StatusBadRequest)

	recorder = harness.do(test, http.MethodPost, "/api/admin/accounts/"+customerID+"/debits", admin, map[string]any{"amount": 2})
	expectStatus(test, recorder, http.StatusCreated)
	var body struct {
		Balance balanceBody `json:"balance"`
	}
	mustDecode(test, recorder, &body)
	if body.Balance.Balance != 0 {
		test.Fatalf("expected balance 0, got %d", body.Balance.Balance)
	}
}

func TestAdminCreditRejectsDebitReason(test *testing.T) {
	harness := newAPIHarness(test)
	recorder := harness.do(test, http.MethodPost, "/api/admin/accounts/"+customerID+"/credits", mustToken(test, operatorID, "admin"), map[string]any{"amount": 2, "reason": "order-debit"})
	expectStatus(test, recorder, http.StatusBadRequest)
	var body errorBody
	mustDecode(test, recorder, &body)
	if body.Error.Code != "invalid_reason" {
		test.Fatalf("unexpected error code %q", body.Error.Code)
	}
}

func TestAdminAdjustmentsCannotUseOrderReasons(test *testing.T) {
	harness := newAPIHarness(test)
	harness.grant(test, customerID, 5)
	admin := mustToken(test, operatorID, "admin")

	var placed orderBody
	mustDecode(test, harness.placeOrder(test, customerID, "day1", "day2", "day3"), &placed)

	recorder := harness.do(test, http.MethodPost, "/api/admin/accounts/"+customerID+"/credits", admin, map[string]any{"amount": 3, "reason": "order-refund", "related_order_id": placed.Order.OrderID})
	expectStatus(test, recorder, http.StatusBadRequest)
	var rejected errorBody
	mustDecode(test, recorder, &rejected)
	if rejected.Error.Code != "invalid_reason" {
		test.Fatalf("unexpected error code %q", rejected.Error.Code)
	}
	recorder = harness.do(test, http.MethodPost, "/api/admin/accounts/"+customerID+"/debits", admin, map[string]any{"amount": 1, "reason": "order-debit", "related_order_id": placed.Order.OrderID})
	expectStatus(test, recorder, http.StatusBadRequest)

	recorder = harness.do(test, http.MethodPost, "/api/admin/orders/"+placed.Order.OrderID+"/transitions", admin, map[string]any{"status": "refunded"})
	expectStatus(test, recorder, http.StatusOK)

	recorder = harness.do(test, http.MethodGet, "/api/admin/orders/"+placed.Order.OrderID+"/transactions", admin, nil)
	expectStatus(test, recorder, http.StatusOK)
	var history struct {
		Transactions []struct {
			Reason string `json:"reason"`
		} `json:"transactions"`
	}
	mustDecode(test, recorder, &history)
	refunds := 0
	for _, transaction := range history.Transactions {
		if transaction.Reason == "order-refund" {
			refunds++
		}
	}
	if len(history.Transactions) != 2 || refunds != 1 {
		test.Fatalf("expected one debit and one refund, got %+v", history.Transactions)
	}
	recorder = harness.do(test, http.MethodGet, "/api/accounts/"+customerID+"/balance", mustToken(test, customerID), nil)
	var balance balanceBody
	mustDecode(test, recorder, &balance)
	if balance.Balance != 5 {
		test.Fatalf("expected balance 5, got %d", balance.Balance)
	}
}

func TestTransitionFlow(test *testing.T) {
	harness := newAPIHarness(test)
	harness.grant(test, customerID, 5)
	admin := mustToken(test, operatorID, "admin")

	var placed orderBody
	mustDecode(test, harness.placeOrder(test, customerID, "day1", "day2", "day3"), &placed)
	orderPath := "/api/admin/orders/" + placed.Order.OrderID

	recorder := harness.do(test, http.MethodPost, orderPath+"/transitions", admin, map[string]any{"status": "delivered"})
	expectStatus(test, recorder, http.StatusConflict)
	var conflict errorBody
	mustDecode(test, recorder, &conflict)
	if conflict.Error.Message != "cannot move order from pending to delivered" {
		test.Fatalf("unexpected message %q", conflict.Error.Message)
	}

	recorder = harness.do(test, http.MethodPost, orderPath+"/transitions", admin, map[string]any{"status": "shipped"})
	expectStatus(test, recorder, http.StatusBadRequest)

	recorder = harness.do(test, http.MethodPost, orderPath+"/transitions", admin, map[string]any{"status": "cancelled", "refund_credits": true})
	expectStatus(test, recorder, http.StatusOK)
	var cancelled orderBody
	mustDecode(test, recorder, &cancelled)
	if cancelled.Order.Status != "cancelled" || cancelled.Order.RefundTransactionID == "" {
		test.Fatalf("expected refunded cancellation, got %+v", cancelled.Order)
	}

	recorder = harness.do(test, http.MethodGet, "/api/accounts/"+customerID+"/balance", mustToken(test, customerID), nil)
	var balance balanceBody
	mustDecode(test, recorder, &balance)
	if balance.Balance != 5 {
		test.Fatalf("expected balance restored to 5, got %d", balance.Balance)
	}

	recorder = harness.do(test, http.MethodGet, orderPath+"/transactions", admin, nil)
	expectStatus(test, recorder, http.StatusOK)
	var history struct {
		Transactions []struct {
			Reason string `json:"reason"`
		} `json:"transactions"`
	}
	mustDecode(test, recorder, &history)
	if len(history.Transactions) != 2 {
		test.Fatalf("expected debit and refund for order, got %+v", history.Transactions)
	}

	recorder = harness.do(test, http.MethodGet, "/api/admin/accounts/"+customerID+"/reconciliation", admin, nil)
	expectStatus(test, recorder, http.StatusOK)
	var reconciliation struct {
		Consistent bool  `json:"consistent"`
		LogBalance int64 `json:"log_balance"`
	}
	mustDecode(test, recorder, &reconciliation)
	if !reconciliation.Consistent || reconciliation.LogBalance != 5 {
		test.Fatalf("unexpected reconciliation %+v", reconciliation)
	}
}

func TestGetOrderHidesForeignOrders(test *testing.T) {
	harness := newAPIHarness(test)
	harness.grant(test, customerID, 2)
	var placed orderBody
	mustDecode(test, harness.placeOrder(test, customerID, "day1"), &placed)

	recorder := harness.do(test, http.MethodGet, "/api/orders/"+placed.Order.OrderID, mustToken(test, customerID), nil)
	expectStatus(test, recorder, http.StatusOK)

	recorder = harness.do(test, http.MethodGet, "/api/orders/"+placed.Order.OrderID, mustToken(test, otherID), nil)
	expectStatus(test, recorder, http.StatusNotFound)

	recorder = harness.do(test, http.MethodGet, "/api/orders/missing-order", mustToken(test, customerID), nil)
	expectStatus(test, recorder, http.StatusNotFound)
}

func TestTransactionPaging(test *testing.T) {
	harness := newAPIHarness(test)
	for i := 0; i < 3; i++ {
		harness.grant(test, customerID, 1)
	}
	token := mustToken(test, customerID)

	recorder := harness.do(test, http.MethodGet, "/api/accounts/"+customerID+"/transactions?limit=2", token, nil)
	expectStatus(test, recorder, http.StatusOK)
	var page struct {
		Transactions []json.RawMessage `json:"transactions"`
		Page         struct {
			HasMore bool `json:"has_more"`
		} `json:"page"`
	}
	mustDecode(test, recorder, &page)
	if len(page.Transactions) != 2 || !page.Page.HasMore {
		test.Fatalf("unexpected first page %+v", page)
	}

	recorder = harness.do(test, http.MethodGet, "/api/accounts/"+customerID+"/transactions?limit=500", token, nil)
	expectStatus(test, recorder, http.StatusBadRequest)

	recorder = harness.do(test, http.MethodGet, "/api/accounts/"+customerID+"/transactions?limit=abc", token, nil)
	expectStatus(test, recorder, http.StatusBadRequest)
}
