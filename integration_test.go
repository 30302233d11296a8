package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startTestServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := DefaultTuning()
	cfg.TickMillis = 20

	diag := NewDiagnostics(db)
	t.Cleanup(diag.Stop)

	hub := NewHub(db, cfg, diag)
	go hub.Run()

	srv := httptest.NewServer(SetupRoutes(hub, ""))
	t.Cleanup(srv.Close)
	return srv, hub
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEnv(t *testing.T, conn *websocket.Conn, typ string, data interface{}) {
	t.Helper()
	if err := conn.WriteJSON(Envelope{T: typ, Data: data}); err != nil {
		t.Fatal(err)
	}
}

// readEnv reads text frames until one of the wanted type arrives, skipping
// interleaved binary turn broadcasts.
func readEnv(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("reading while waiting for %q: %v", want, err)
		}
		if mt == websocket.BinaryMessage {
			continue
		}
		var env InEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		if env.T == want {
			return env.D
		}
		if env.T == SrvError {
			t.Fatalf("server error while waiting for %q: %s", want, env.D)
		}
	}
	t.Fatalf("timed out waiting for %q", want)
	return nil
}

func TestJoinIntentBroadcastDesync(t *testing.T) {
	srv, _ := startTestServer(t)
	conn := dialWS(t, srv)

	// Create a session.
	sendEnv(t, conn, CliCreate, CreateMsg{SessionName: "Integration Front"})
	var created map[string]string
	if err := json.Unmarshal(readEnv(t, conn, SrvCreated), &created); err != nil {
		t.Fatal(err)
	}
	sid := created["sid"]
	if sid == "" {
		t.Fatal("no session id")
	}

	// Join it: map, identity, start payload, in that order.
	sendEnv(t, conn, CliJoin, JoinMsg{Name: "Tester", SessionID: sid})

	var m MapMsg
	if err := json.Unmarshal(readEnv(t, conn, SrvMap), &m); err != nil {
		t.Fatal(err)
	}
	if m.Width != defaultMapW || m.Height != defaultMapH {
		t.Fatalf("map %dx%d", m.Width, m.Height)
	}

	var joined JoinedMsg
	if err := json.Unmarshal(readEnv(t, conn, SrvJoined), &joined); err != nil {
		t.Fatal(err)
	}
	if joined.ClientID == "" || joined.SmallID == 0 {
		t.Fatalf("joined = %+v", joined)
	}

	var start StartMsg
	if err := json.Unmarshal(readEnv(t, conn, SrvStart), &start); err != nil {
		t.Fatal(err)
	}
	view, err := NewWorldView(&start)
	if err != nil {
		t.Fatalf("start payload unusable: %v", err)
	}
	if _, ok := view.PlayerByClient(joined.ClientID); !ok {
		t.Fatal("own identity missing from start roster")
	}

	// Submit a spawn intent and wait for it to echo inside a turn.
	spawnTile := NewGrid(start.Width, start.Height).Ref(50, 50)
	sendEnv(t, conn, CliIntent, Intent{Kind: IntentSpawn, ClientID: joined.ClientID, Tile: spawnTile})

	var turnNo uint32
	var turnHash uint64
	deadline := time.Now().Add(5 * time.Second)
	for turnNo == 0 {
		if time.Now().After(deadline) {
			t.Fatal("intent never echoed in a turn broadcast")
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		tb, err := DecodeBroadcast(data)
		if err != nil {
			t.Fatalf("bad turn frame: %v", err)
		}
		for _, in := range tb.Turn.Intents {
			if in.ClientID == joined.ClientID && in.Kind == IntentSpawn {
				turnNo = tb.Turn.Number
				turnHash = tb.Update.Hash
			}
		}
	}

	// Report a wrong hash for that turn and expect a desync notice.
	sendEnv(t, conn, CliHash, HashMsg{Turn: turnNo, Hash: turnHash ^ 1})
	var notice DesyncMsg
	if err := json.Unmarshal(readEnv(t, conn, SrvDesync), &notice); err != nil {
		t.Fatal(err)
	}
	if notice.Turn != turnNo {
		t.Fatalf("notice for turn %d, want %d", notice.Turn, turnNo)
	}
	if notice.CorrectHash == nil || *notice.CorrectHash != turnHash {
		t.Fatalf("notice hash = %v, want %x", notice.CorrectHash, turnHash)
	}
	if notice.YourHash == nil || *notice.YourHash != turnHash^1 {
		t.Fatalf("notice echo = %v", notice.YourHash)
	}
}

func TestMalformedIntentRejectedPerClient(t *testing.T) {
	srv, _ := startTestServer(t)
	conn := dialWS(t, srv)

	sendEnv(t, conn, CliCreate, CreateMsg{SessionName: "Validation"})
	var created map[string]string
	json.Unmarshal(readEnv(t, conn, SrvCreated), &created)
	sendEnv(t, conn, CliJoin, JoinMsg{Name: "Tester", SessionID: created["sid"]})
	readEnv(t, conn, SrvStart)

	// Unknown kind must bounce back as an error to this client only.
	if err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"t":"intent","d":{"kind":"teleport","clientID":"00000000"}}`)); err != nil {
		t.Fatal(err)
	}
	readEnv(t, conn, SrvError)
}

func TestSessionListAndCheck(t *testing.T) {
	srv, _ := startTestServer(t)
	conn := dialWS(t, srv)

	sendEnv(t, conn, CliCreate, CreateMsg{SessionName: "Listed"})
	var created map[string]string
	json.Unmarshal(readEnv(t, conn, SrvCreated), &created)

	sendEnv(t, conn, CliList, nil)
	var list []SessionInfo
	if err := json.Unmarshal(readEnv(t, conn, SrvSessions), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != created["sid"] {
		t.Fatalf("list = %+v", list)
	}

	sendEnv(t, conn, CliCheck, CheckMsg{SID: created["sid"]})
	var checked CheckedMsg
	json.Unmarshal(readEnv(t, conn, SrvChecked), &checked)
	if !checked.Exists || checked.Name != "Listed" {
		t.Fatalf("checked = %+v", checked)
	}

	sendEnv(t, conn, CliCheck, CheckMsg{SID: "missing"})
	json.Unmarshal(readEnv(t, conn, SrvChecked), &checked)
	if checked.Exists {
		t.Fatal("nonexistent session reported as existing")
	}
}

func TestRegisterLoginOverWS(t *testing.T) {
	srv, _ := startTestServer(t)
	conn := dialWS(t, srv)

	sendEnv(t, conn, CliRegister, RegisterMsg{Username: "alice", Password: "hunter2"})
	var ok AuthOKMsg
	if err := json.Unmarshal(readEnv(t, conn, SrvAuthOK), &ok); err != nil {
		t.Fatal(err)
	}
	if ok.Token == "" || ok.Account == 0 {
		t.Fatalf("authok = %+v", ok)
	}

	// Token round-trips through validation.
	sendEnv(t, conn, CliAuth, AuthMsg{Token: ok.Token})
	var again AuthOKMsg
	json.Unmarshal(readEnv(t, conn, SrvAuthOK), &again)
	if again.Account != ok.Account || again.Username != "alice" {
		t.Fatalf("revalidation = %+v", again)
	}

	sendEnv(t, conn, CliLogin, LoginMsg{Username: "alice", Password: "wrong"})
	readEnv(t, conn, SrvError)
}

func TestSecondConnectionSameAccountRejected(t *testing.T) {
	srv, _ := startTestServer(t)
	first := dialWS(t, srv)

	sendEnv(t, first, CliRegister, RegisterMsg{Username: "carol", Password: "hunter2"})
	readEnv(t, first, SrvAuthOK)

	// The account is online on the first connection; a second login must
	// bounce while the first stays attached.
	second := dialWS(t, srv)
	sendEnv(t, second, CliLogin, LoginMsg{Username: "carol", Password: "hunter2"})
	var env InEnvelope
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := second.ReadJSON(&env); err != nil {
		t.Fatal(err)
	}
	if env.T != SrvError {
		t.Fatalf("duplicate login answered with %q, want %q", env.T, SrvError)
	}
}

func TestReplayEndpoint(t *testing.T) {
	srv, hub := startTestServer(t)

	sess, err := hub.sessions.CreateSession("Archived", 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	// The turn log fills as the match ticks; poll until it is served.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("no archived turns served before deadline")
		}
		resp, err := http.Get(srv.URL + "/replay?sid=" + sess.ID)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("replay status %d", resp.StatusCode)
		}
		packed, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		history, err := UnpackTurnHistory(packed)
		if err != nil {
			t.Fatalf("replay payload unusable: %v", err)
		}
		if len(history) == 0 {
			t.Fatal("archived history empty")
		}
		if history[0].Turn.Number != 1 {
			t.Fatalf("history starts at turn %d", history[0].Turn.Number)
		}
		break
	}

	resp, err := http.Get(srv.URL + "/replay?sid=missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("replay for unknown session: status %d", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, hub := startTestServer(t)

	// Events land in the same table the aggregates read from.
	if err := hub.db.RecordEvent("s-1", EvtDesync, "cafecafe", "turn=3"); err != nil {
		t.Fatal(err)
	}
	if err := hub.db.RecordEvent("s-1", EvtWinner, "cafecafe", ""); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var stats struct {
		Events  map[string]int `json:"events"`
		Desyncs map[string]int `json:"desyncs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Events[EvtDesync] != 1 || stats.Events[EvtWinner] != 1 {
		t.Fatalf("event counts = %v", stats.Events)
	}
	if stats.Desyncs["s-1"] != 1 {
		t.Fatalf("desyncs by session = %v", stats.Desyncs)
	}
}

func TestQRAndHealthEndpoints(t *testing.T) {
	srv, hub := startTestServer(t)

	sess, err := hub.sessions.CreateSession("QR", 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/qr?sid=" + sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("qr: status %d type %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	if resp, err := http.Get(srv.URL + "/qr?sid=nope"); err == nil {
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("qr for missing session: status %d", resp.StatusCode)
		}
	}

	hresp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer hresp.Body.Close()
	var health map[string]interface{}
	if err := json.NewDecoder(hresp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health["status"] != "ok" {
		t.Fatalf("health = %v", health)
	}
	if _, ok := health["clients"]; !ok {
		t.Fatalf("health missing client count: %v", health)
	}
}
