package server

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/austintgriffith/verifiable-game-backend/internal/auth"
	"github.com/austintgriffith/verifiable-game-backend/internal/dice"
	"github.com/austintgriffith/verifiable-game-backend/internal/session"
)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

func testBoard(size int) *dice.Map {
	land := make([][]dice.Tile, size)
	for y := range land {
		land[y] = make([]dice.Tile, size)
		for x := range land[y] {
			land[y][x] = dice.TileCommon
		}
	}
	land[0][0] = dice.TileStart
	return &dice.Map{Size: size, Land: land, Start: dice.StartingPosition{OriginalLandType: int(dice.TileCommon)}}
}

type fixture struct {
	ts      *httptest.Server
	session *session.Session
	key     *ecdsa.PrivateKey
	addr    common.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	sess := session.New(5, testBoard(5), common.HexToHash("0xbeef"), []common.Address{addr}, session.GameDuration)
	sess.Start()
	t.Cleanup(sess.Stop)

	srv := New(Config{
		GameID:      5,
		Contract:    testContract,
		StakeAmount: big.NewInt(1_000_000),
		Session:     sess,
		Issuer:      auth.NewTokenIssuer("test-secret", testContract),
		Phase:       func() string { return "GAME_RUNNING" },
	})
	ts := httptest.NewServer(srv.srv.Handler)
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, session: sess, key: key, addr: addr}
}

func (f *fixture) get(t *testing.T, path, token string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return f.do(t, req)
}

func (f *fixture) post(t *testing.T, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, f.ts.URL+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return f.do(t, req)
}

func (f *fixture) do(t *testing.T, req *http.Request) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s body: %v", req.URL.Path, err)
	}
	return resp, out
}

// register runs the full challenge/sign/register flow and returns a
// bearer token.
func (f *fixture) register(t *testing.T) string {
	t.Helper()
	resp, challenge := f.get(t, "/register", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /register: status %d", resp.StatusCode)
	}
	ts := int64(challenge["timestamp"].(float64))
	msg := challenge["message"].(string)

	digest := accounts.TextHash([]byte(msg))
	sig, err := crypto.Sign(digest, f.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	resp, out := f.post(t, "/register", "", map[string]interface{}{
		"address":   f.addr.Hex(),
		"signature": hexutil.Encode(sig),
		"timestamp": ts,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /register: status %d body %v", resp.StatusCode, out)
	}
	token, _ := out["token"].(string)
	if token == "" {
		t.Fatal("no token in register response")
	}
	if int64(out["expiresIn"].(float64)) != 3600 {
		t.Fatalf("expiresIn = %v", out["expiresIn"])
	}
	return token
}

func TestPublicEndpoints(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/", "/test", "/status", "/players"} {
		resp, _ := f.get(t, path, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, resp.StatusCode)
		}
	}
	_, status := f.get(t, "/status", "")
	if status["phase"] != "GAME_RUNNING" {
		t.Fatalf("phase = %v", status["phase"])
	}
	if _, ok := status["timeRemaining"].(float64); !ok {
		t.Fatalf("timeRemaining missing: %v", status)
	}

	_, players := f.get(t, "/players", "")
	list := players["players"].([]interface{})
	if len(list) != 1 {
		t.Fatalf("players = %v", list)
	}
	entry := list[0].(map[string]interface{})
	if _, leaked := entry["position"]; leaked {
		t.Fatal("players listing leaks positions")
	}
	if _, leaked := entry["tile"]; leaked {
		t.Fatal("players listing leaks current tile")
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	f := newFixture(t)
	if resp, _ := f.get(t, "/map", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GET /map without token: status %d", resp.StatusCode)
	}
	if resp, _ := f.post(t, "/move", "", map[string]string{"direction": "east"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("POST /move without token: status %d", resp.StatusCode)
	}
	if resp, _ := f.post(t, "/mine", "garbage-token", map[string]string{}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("POST /mine with bad token: status %d", resp.StatusCode)
	}
}

func TestRegisterAndPlay(t *testing.T) {
	f := newFixture(t)
	token := f.register(t)

	resp, out := f.get(t, "/map", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /map: status %d", resp.StatusCode)
	}
	if _, ok := out["view"]; !ok {
		t.Fatalf("no view in /map response: %v", out)
	}

	resp, out = f.post(t, "/move", token, map[string]string{"direction": "East"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /move: status %d body %v", resp.StatusCode, out)
	}
	if out["direction"] != "east" {
		t.Fatalf("direction = %v", out["direction"])
	}

	resp, out = f.post(t, "/mine", token, map[string]string{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /mine: status %d body %v", resp.StatusCode, out)
	}
	if out["pointsEarned"].(float64) < 1 {
		t.Fatalf("pointsEarned = %v", out["pointsEarned"])
	}
}

func TestMoveValidation(t *testing.T) {
	f := newFixture(t)
	token := f.register(t)
	resp, out := f.post(t, "/move", token, map[string]string{"direction": "sideways"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid direction: status %d", resp.StatusCode)
	}
	if out["error"] != session.ErrInvalidDirection.Error() {
		t.Fatalf("error = %v", out["error"])
	}
}

func TestRegisterRejectsNonPlayer(t *testing.T) {
	f := newFixture(t)
	// A fresh key with a valid signature that is not in the player set.
	stranger, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ts := time.Now().UnixMilli()
	msg := auth.Challenge(testContract, 5, ts)
	digest := accounts.TextHash([]byte(msg))
	sig, _ := crypto.Sign(digest, stranger)
	sig[crypto.RecoveryIDOffset] += 27

	resp, _ := f.post(t, "/register", "", map[string]interface{}{
		"address":   crypto.PubkeyToAddress(stranger.PublicKey).Hex(),
		"signature": hexutil.Encode(sig),
		"timestamp": ts,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-player register: status %d", resp.StatusCode)
	}
}

func TestRegisterRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	ts := time.Now().UnixMilli()
	// Signature over the wrong game id.
	msg := auth.Challenge(testContract, 6, ts)
	digest := accounts.TextHash([]byte(msg))
	sig, _ := crypto.Sign(digest, f.key)
	sig[crypto.RecoveryIDOffset] += 27

	resp, _ := f.post(t, "/register", "", map[string]interface{}{
		"address":   f.addr.Hex(),
		"signature": hexutil.Encode(sig),
		"timestamp": ts,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad signature register: status %d", resp.StatusCode)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.post(t, "/register", "", map[string]interface{}{"address": f.addr.Hex()})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing fields: status %d", resp.StatusCode)
	}
	resp, _ = f.post(t, "/register", "", map[string]interface{}{
		"address":   "nonsense",
		"signature": "0x00",
		"timestamp": time.Now().UnixMilli(),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad address: status %d", resp.StatusCode)
	}
}

func TestTimerExpiredSurfacesExactMessage(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	sess := session.New(5, testBoard(5), common.HexToHash("0x01"), []common.Address{addr}, 20*time.Millisecond)
	sess.Start()
	defer sess.Stop()

	srv := New(Config{
		GameID:      5,
		Contract:    testContract,
		StakeAmount: big.NewInt(1),
		Session:     sess,
		Issuer:      auth.NewTokenIssuer("test-secret", testContract),
		Phase:       func() string { return "GAME_RUNNING" },
	})
	ts := httptest.NewServer(srv.srv.Handler)
	defer ts.Close()
	f := &fixture{ts: ts, session: sess, key: key, addr: addr}
	token := f.register(t)

	time.Sleep(60 * time.Millisecond)
	resp, out := f.post(t, "/move", token, map[string]string{"direction": "east"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("move after expiry: status %d", resp.StatusCode)
	}
	if out["error"] != "Time expired! Game over." {
		t.Fatalf("error = %v", out["error"])
	}
}

func TestLargeStakeSerialisedAsString(t *testing.T) {
	stake, _ := new(big.Int).SetString("1000000000000000000", 10) // 1e18 > 2^53
	b, err := json.Marshal(map[string]interface{}{"stakeAmount": jsonNumber{stake}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"stakeAmount":"1000000000000000000"}` {
		t.Fatalf("unexpected encoding: %s", b)
	}
	small, _ := json.Marshal(jsonNumber{big.NewInt(42)})
	if string(small) != "42" {
		t.Fatalf("small number encoding: %s", small)
	}
}
