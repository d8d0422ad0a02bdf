// Package stream consumes landmark frames from an MQTT topic and publishes
// the recognition result of each frame.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/landmarks"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/session"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// queueSize bounds the frames buffered between the MQTT callback and the
// processing loop.
const queueSize = 64

// Frame is one captured frame's landmark sets.
type Frame struct {
	FrameID string          `json:"frame_id"`
	Width   int             `json:"width"`
	Height  int             `json:"height"`
	Faces   []landmarks.Set `json:"faces"`
}

// Result is published for every processed frame.
type Result struct {
	FrameID string         `json:"frame_id"`
	Faces   []session.Face `json:"faces"`
	Error   string         `json:"error,omitempty"`
}

// Processor identifies the faces of one frame.
type Processor interface {
	ProcessFrame(sets []landmarks.Set, width, height int) ([]session.Face, error)
}

// Options configures the MQTT connection.
type Options struct {
	Broker       string
	ClientID     string
	FramesTopic  string
	ResultsTopic string
	QoS          byte
}

// Worker processes frames one at a time in arrival order.
type Worker struct {
	opts      Options
	processor Processor
}

// NewWorker creates a worker around processor.
func NewWorker(opts Options, processor Processor) *Worker {
	return &Worker{opts: opts, processor: processor}
}

// HandleFrame decodes a frame payload, processes it and returns the encoded
// result. Processing errors are reported inside the result; only payloads
// that cannot be decoded return an error.
func (w *Worker) HandleFrame(payload []byte) ([]byte, error) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	res := Result{FrameID: frame.FrameID, Faces: []session.Face{}}
	faces, err := w.processor.ProcessFrame(frame.Faces, frame.Width, frame.Height)
	if err != nil {
		res.Error = err.Error()
	} else {
		res.Faces = faces
	}

	out, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return out, nil
}

// Run connects to the broker and processes frames until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	log := logging.Component("stream")
	frames := make(chan []byte, queueSize)

	opts := mqtt.NewClientOptions().AddBroker(w.opts.Broker).SetClientID(w.opts.ClientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(c mqtt.Client) {
		log.Infof("Connected to MQTT broker %s", w.opts.Broker)
		token := c.Subscribe(w.opts.FramesTopic, w.opts.QoS, func(_ mqtt.Client, m mqtt.Message) {
			payload := append([]byte(nil), m.Payload()...)
			select {
			case frames <- payload:
			default:
				log.Warn("Frame queue full, dropping frame")
			}
		})
		if token.Wait() && token.Error() != nil {
			log.WithError(token.Error()).Errorf("Failed to subscribe to %s", w.opts.FramesTopic)
			return
		}
		log.Infof("Subscribed to %s", w.opts.FramesTopic)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost")
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to %s: %w", w.opts.Broker, token.Error())
	}
	defer client.Disconnect(250)

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping frame stream")
			client.Unsubscribe(w.opts.FramesTopic).Wait()
			return nil
		case payload := <-frames:
			out, err := w.HandleFrame(payload)
			if err != nil {
				log.WithError(err).Warn("Discarding frame")
				continue
			}
			if token := client.Publish(w.opts.ResultsTopic, w.opts.QoS, false, out); token.Wait() && token.Error() != nil {
				log.WithError(token.Error()).Errorf("Failed to publish to %s", w.opts.ResultsTopic)
			}
		}
	}
}
