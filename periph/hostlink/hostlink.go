// Package hostlink bridges simulated UART output to the host: stdout, a
// serial port, an MQTT topic or a websocket console.
package hostlink

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/cesanta/go-serial/serial"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Sink receives UART bytes.
type Sink interface {
	io.WriteCloser
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Open parses a sink spec and opens it. Supported forms:
//
//	stdout
//	serial:/dev/ttyUSB0@115200
//	mqtt://host:port/topic
//	ws:host:port
func Open(spec string) (Sink, error) {
	switch {
	case spec == "" || spec == "none":
		return nil, nil
	case spec == "stdout":
		return nopCloser{os.Stdout}, nil
	case strings.HasPrefix(spec, "serial:"):
		port, baud, err := parseSerial(strings.TrimPrefix(spec, "serial:"))
		if err != nil {
			return nil, errors.Trace(err)
		}
		s, err := OpenSerial(port, baud)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return s, nil
	case strings.HasPrefix(spec, "mqtt://"), strings.HasPrefix(spec, "mqtts://"):
		m, err := OpenMQTT(spec, "")
		if err != nil {
			return nil, errors.Trace(err)
		}
		return m, nil
	case strings.HasPrefix(spec, "ws:"):
		addr := strings.TrimPrefix(strings.TrimPrefix(spec, "ws:"), "//")
		if addr == "" {
			return nil, errors.NotValidf("empty websocket address")
		}
		ws, err := OpenWebSocket(addr)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return ws, nil
	}
	return nil, errors.NotValidf("uart sink %q", spec)
}

func parseSerial(s string) (string, uint, error) {
	port, baud := s, uint(115200)
	if i := strings.LastIndex(s, "@"); i >= 0 {
		port = s[:i]
		b, err := strconv.ParseUint(s[i+1:], 10, 32)
		if err != nil {
			return "", 0, errors.NotValidf("baud rate %q", s[i+1:])
		}
		baud = uint(b)
	}
	if port == "" {
		return "", 0, errors.NotValidf("empty serial port name")
	}
	return port, baud, nil
}

// SerialSink writes UART output to a host serial port.
type SerialSink struct {
	port io.ReadWriteCloser
}

// OpenSerial opens a serial port in 8N1 mode.
func OpenSerial(portName string, baud uint) (*SerialSink, error) {
	oo := serial.OpenOptions{
		PortName:        portName,
		BaudRate:        baud,
		DataBits:        8,
		ParityMode:      serial.PARITY_NONE,
		StopBits:        1,
		MinimumReadSize: 0,
	}
	s, err := serial.Open(oo)
	glog.Infof("%s opened: %v, err: %v", portName, s, err)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &SerialSink{port: s}, nil
}

func (s *SerialSink) Write(p []byte) (int, error) {
	n, err := s.port.Write(p)
	return n, errors.Trace(err)
}

// Close closes the port.
func (s *SerialSink) Close() error {
	return errors.Trace(s.port.Close())
}

// MQTTSink publishes UART output to a topic, one message per line.
type MQTTSink struct {
	cli   mqtt.Client
	topic string

	mu  sync.Mutex
	buf bytes.Buffer
}

// ClientOptsFromURL builds client options from an mqtt:// URL whose path
// names the topic.
func ClientOptsFromURL(us, clientID string) (*mqtt.ClientOptions, string, error) {
	u, err := url.Parse(us)
	if err != nil {
		return nil, "", errors.Trace(err)
	}
	if len(u.Path) < 2 {
		return nil, "", errors.NotValidf("mqtt url %q without a topic", us)
	}
	topic := u.Path[1:]

	if clientID == "" {
		clientID = fmt.Sprintf("mcusim-%d", os.Getpid())
	}

	u.Path = ""
	if u.Scheme == "mqtts" {
		u.Scheme = "tcps"
		if u.Port() == "" {
			u.Host = fmt.Sprintf("%s:%d", u.Host, 8883)
		}
	} else {
		u.Scheme = "tcp"
		if u.Port() == "" {
			u.Host = fmt.Sprintf("%s:%d", u.Host, 1883)
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(u.String())
	opts.SetClientID(clientID)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pass, ok := u.User.Password(); ok {
			opts.SetPassword(pass)
		}
	}
	return opts, topic, nil
}

// OpenMQTT connects to the broker named by the URL.
func OpenMQTT(us, clientID string) (*MQTTSink, error) {
	opts, topic, err := ClientOptsFromURL(us, clientID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	glog.V(1).Infof("Connecting %s to %v", opts.ClientID, opts.Servers)

	cli := mqtt.NewClient(opts)
	token := cli.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, errors.Annotatef(err, "MQTT connect error")
	}
	return &MQTTSink{cli: cli, topic: topic}, nil
}

// Write buffers p and publishes every complete line.
func (m *MQTTSink) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buf.Write(p)
	for {
		line, err := m.buf.ReadBytes('\n')
		if err != nil {
			// Incomplete line: put it back for the next write.
			m.buf.Reset()
			m.buf.Write(line)
			return len(p), nil
		}
		if err := m.publish(bytes.TrimRight(line, "\r\n")); err != nil {
			return len(p), err
		}
	}
}

func (m *MQTTSink) publish(msg []byte) error {
	glog.V(4).Infof("Sending [%s] to [%s]", msg, m.topic)
	token := m.cli.Publish(m.topic, 1 /* qos */, false /* retained */, msg)
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.Annotatef(err, "MQTT publish error")
	}
	return nil
}

// Close flushes a trailing partial line and disconnects.
func (m *MQTTSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.buf.Len() > 0 {
		err = m.publish(m.buf.Bytes())
		m.buf.Reset()
	}
	m.cli.Disconnect(250)
	return err
}
