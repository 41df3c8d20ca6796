package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/duel/internal/adapters/mq/queue"
	"github.com/okian/duel/pkg/logger"
)

type stubPublisher struct {
	got []string
	err error
}

func (s *stubPublisher) Publish(_ context.Context, e queue.Event) error {
	s.got = append(s.got, e.EventID)
	return s.err
}

func change(id string) queue.Event {
	return queue.Event{EventID: id, DuelID: "d-" + id, WinnerID: "a", LoserID: "b",
		WinnerOld: 1000, WinnerNew: 1016, LoserOld: 1000, LoserNew: 984, Delta: 16, Expected: 0.5}
}

func TestFanout(t *testing.T) {
	Convey("Given a fanout over two publishers", t, func() {
		ok := &stubPublisher{}
		bad := &stubPublisher{err: errors.New("broker down")}
		f := Fanout{bad, ok}

		Convey("When one of them fails", func() {
			err := f.Publish(context.Background(), change("e1"))

			Convey("Then the other still receives the event", func() {
				So(ok.got, ShouldResemble, []string{"e1"})
				So(bad.got, ShouldResemble, []string{"e1"})
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "broker down")
			})
		})
	})
}

func TestLogPublisher(t *testing.T) {
	Convey("Given a log publisher", t, func() {
		var buf bytes.Buffer
		So(logger.Init(logger.WithOutput(&buf), logger.WithFormat("json")), ShouldBeNil)
		p := NewLogPublisher(logger.Get().Named("events"))

		Convey("When publishing", func() {
			So(p.Publish(context.Background(), change("e1")), ShouldBeNil)

			Convey("Then the change is logged", func() {
				So(buf.String(), ShouldContainSubstring, "rating changed")
				So(buf.String(), ShouldContainSubstring, `"duel_id":"d-e1"`)
			})
		})
	})
}

func TestHub(t *testing.T) {
	_ = logger.Init()

	Convey("Given a hub with one connected browser", t, func() {
		hub := NewHub(logger.Get())
		srv := httptest.NewServer(hub)
		defer srv.Close()
		defer hub.Close()

		url := "ws" + strings.TrimPrefix(srv.URL, "http")
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		So(err, ShouldBeNil)
		defer conn.Close()

		deadline := time.Now().Add(2 * time.Second)
		for hub.Clients() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		So(hub.Clients(), ShouldEqual, 1)

		Convey("When a change is published", func() {
			So(hub.Publish(context.Background(), change("e7")), ShouldBeNil)

			Convey("Then the browser receives it as JSON", func() {
				_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				_, data, err := conn.ReadMessage()
				So(err, ShouldBeNil)

				var got queue.Event
				So(json.Unmarshal(data, &got), ShouldBeNil)
				So(got.EventID, ShouldEqual, "e7")
				So(got.WinnerNew, ShouldEqual, 1016)
			})
		})

		Convey("When the browser disconnects", func() {
			_ = conn.Close()

			Convey("Then the hub forgets it", func() {
				deadline := time.Now().Add(2 * time.Second)
				for hub.Clients() > 0 && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}
				So(hub.Clients(), ShouldEqual, 0)
			})
		})
	})
}

func TestNATSPublisher(t *testing.T) {
	url := os.Getenv("DUEL_TEST_NATS_URL")
	if url == "" {
		t.Skip("DUEL_TEST_NATS_URL not set")
	}

	Convey("Given a NATS publisher and a subscriber", t, func() {
		pub, err := ConnectNATS(url, "duel.test.rating")
		So(err, ShouldBeNil)
		defer pub.Close()

		sub, err := nats.Connect(url)
		So(err, ShouldBeNil)
		defer sub.Close()
		ch := make(chan *nats.Msg, 1)
		s, err := sub.ChanSubscribe(pub.Subject(), ch)
		So(err, ShouldBeNil)
		defer s.Unsubscribe()
		So(sub.Flush(), ShouldBeNil)

		Convey("When an event is published", func() {
			So(pub.Publish(context.Background(), change("e9")), ShouldBeNil)

			Convey("Then the subscriber receives it", func() {
				select {
				case msg := <-ch:
					var got queue.Event
					So(json.Unmarshal(msg.Data, &got), ShouldBeNil)
					So(got.EventID, ShouldEqual, "e9")
				case <-time.After(2 * time.Second):
					So("timed out", ShouldBeEmpty)
				}
			})
		})
	})

	Convey("Given an unreachable server", t, func() {
		_, err := ConnectNATS("nats://127.0.0.1:1", "")

		Convey("Then connecting fails", func() {
			So(err, ShouldNotBeNil)
		})
	})
}
