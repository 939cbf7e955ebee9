package hostlink_test

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/juju/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/net/websocket"

	"github.com/sarchlab/mcusim/periph/hostlink"
)

var _ = Describe("WebSocketSink", func() {
	var sink *hostlink.WebSocketSink

	BeforeEach(func() {
		s, err := hostlink.Open("ws:127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		sink = s.(*hostlink.WebSocketSink)
		DeferCleanup(sink.Close)
	})

	receive := func(ws *websocket.Conn) map[string]string {
		var text string
		Expect(websocket.Message.Receive(ws, &text)).To(Succeed())
		var m map[string]string
		Expect(json.Unmarshal([]byte(text), &m)).To(Succeed())
		return m
	}

	It("should serve the log over HTTP", func() {
		_, err := sink.Write([]byte("boot\n"))
		Expect(err).NotTo(HaveOccurred())

		resp, err := http.Get("http://" + sink.Addr().String() + "/uart.log")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal("boot\n"))
	})

	It("should replay the backlog and then stream writes", func() {
		_, err := sink.Write([]byte("hi"))
		Expect(err).NotTo(HaveOccurred())

		ws, err := websocket.Dial("ws://"+sink.Addr().String()+"/uart", "", "http://localhost/")
		Expect(err).NotTo(HaveOccurred())
		defer ws.Close()

		Expect(receive(ws)).To(Equal(map[string]string{"cmd": "uart", "data": "hi"}))

		_, err = sink.Write([]byte("!"))
		Expect(err).NotTo(HaveOccurred())
		Expect(receive(ws)).To(HaveKeyWithValue("data", "!"))
	})

	It("should reject an empty address", func() {
		_, err := hostlink.Open("ws:")
		Expect(errors.IsNotValid(err)).To(BeTrue())
	})
})
