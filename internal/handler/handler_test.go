package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"txnledger/internal/config"
	"txnledger/internal/model"
	"txnledger/internal/service"
	"txnledger/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (http.Handler, *memory.Store) {
	st := memory.NewStore()
	accountService := service.NewAccountService(st)
	return SetupRouter(accountService), st
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var reqBody *strings.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	} else {
		reqBody = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reqBody)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestCreateAccountAndGetBalance(t *testing.T) {
	router, _ := newTestServer(t)

	status, resp := doRequest(t, router, http.MethodPost, "/api/v1/account/create",
		`{"username":"alice","email":"alice@example.com","initial_balance":"1000.00"}`)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 0, resp["code"])

	data := resp["data"].(map[string]interface{})
	accountID := data["id"].(float64)
	require.Greater(t, accountID, 0.0)

	status, resp = doRequest(t, router, http.MethodGet, "/api/v1/account/balance?account_id=1", "")
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 0, resp["code"])
	data = resp["data"].(map[string]interface{})
	require.Equal(t, "alice", data["username"])
	require.Equal(t, "1000", data["balance"])
}

func TestCreateAccount_Duplicate(t *testing.T) {
	router, _ := newTestServer(t)

	_, resp := doRequest(t, router, http.MethodPost, "/api/v1/account/create",
		`{"username":"bob","email":"bob@example.com"}`)
	require.EqualValues(t, 0, resp["code"])

	_, resp = doRequest(t, router, http.MethodPost, "/api/v1/account/create",
		`{"username":"bob","email":"bob@example.com"}`)
	require.EqualValues(t, 1002, resp["code"]) // CodeDuplicateAccount
}

func TestGetBalance_AccountNotFound(t *testing.T) {
	router, _ := newTestServer(t)

	_, resp := doRequest(t, router, http.MethodGet, "/api/v1/account/balance?account_id=99", "")
	require.EqualValues(t, 1001, resp["code"]) // CodeAccountNotFound
}

func TestGetBalance_BadParam(t *testing.T) {
	router, _ := newTestServer(t)

	_, resp := doRequest(t, router, http.MethodGet, "/api/v1/account/balance?account_id=abc", "")
	require.EqualValues(t, 400, resp["code"])
}

func TestListTransactions_ProjectionOfLedger(t *testing.T) {
	router, st := newTestServer(t)

	account := &model.Account{Username: "carol", Email: "carol@example.com", Balance: decimal.RequireFromString("1000.00")}
	require.NoError(t, st.CreateAccount(context.Background(), account))

	// 流水只能经 Applier 产生，HTTP 层是只读投影
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{TransactionCompleted: "transaction.completed"}},
	}
	incentive := service.NewIncentiveService(&config.IncentiveConfig{Enabled: false})
	applier := service.NewTransactionService(st, incentive, cfg)

	_, err := applier.Apply(context.Background(), &model.TransactionMessage{
		TransactionID: "txn-h1", AccountID: account.ID, Type: "CREDIT", Amount: "150.00",
	})
	require.NoError(t, err)

	_, resp := doRequest(t, router, http.MethodGet, "/api/v1/transaction/list?account_id=1&page=1&page_size=10", "")
	require.EqualValues(t, 0, resp["code"])

	data := resp["data"].(map[string]interface{})
	require.EqualValues(t, 1, data["total"])
	list := data["list"].([]interface{})
	require.Len(t, list, 1)

	item := list[0].(map[string]interface{})
	require.Equal(t, "txn-h1", item["external_id"])
	require.Equal(t, "COMPLETED", item["status"])
	require.Equal(t, true, item["incentive_applied"])
}

func TestListTransactions_UnknownAccount(t *testing.T) {
	router, _ := newTestServer(t)

	_, resp := doRequest(t, router, http.MethodGet, "/api/v1/transaction/list?account_id=7", "")
	require.EqualValues(t, 1001, resp["code"])
}

func TestHealth(t *testing.T) {
	router, _ := newTestServer(t)

	status, resp := doRequest(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", resp["status"])
}
