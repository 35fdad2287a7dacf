package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type readingPayload struct {
	Temperature  float64 `json:"temperature"`
	Humidity     float64 `json:"humidity"`
	SourceDevice string  `json:"source_device,omitempty"`
}

type publisher interface {
	Publish(ctx context.Context, data []byte) error
	Close()
}

func main() {
	mode := flag.String("mode", "http", "Transport: http or mqtt")
	url := flag.String("url", "http://localhost:5000/sensor_data", "Ingestion endpoint for -mode http")
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address for -mode mqtt")
	deviceID := flag.String("device-id", "sim-sensor-1", "Device identifier sent as source_device and used in the MQTT topic")
	interval := flag.Duration("interval", 5*time.Second, "Interval between published readings")
	baseTemp := flag.Float64("base-temp", 22, "Baseline temperature to simulate")
	baseHumidity := flag.Float64("base-humidity", 55, "Baseline relative humidity to simulate")
	jitter := flag.Float64("jitter", 1.5, "Maximum random jitter applied to each value")
	count := flag.Int("count", 0, "Number of readings to send; 0 runs until interrupted")

	flag.Parse()

	var (
		pub publisher
		err error
	)
	switch *mode {
	case "http":
		pub = newHTTPPublisher(*url, 10*time.Second)
		log.Printf("posting readings to %s", *url)
	case "mqtt":
		pub, err = newMQTTPublisher(*brokerAddr, *deviceID)
		if err != nil {
			log.Fatalf("failed to connect to broker: %v", err)
		}
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
	defer pub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	sent := 0
	publish := func() {
		payload := randomReading(rng, *baseTemp, *baseHumidity, *jitter)
		payload.SourceDevice = *deviceID
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("failed to encode payload: %v", err)
			return
		}

		if err := pub.Publish(ctx, data); err != nil {
			log.Printf("publish error: %v", err)
			return
		}
		sent++
		log.Printf("published temperature=%.2f humidity=%.2f", payload.Temperature, payload.Humidity)
	}

	publish()

	for *count == 0 || sent < *count {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, stopping")
			return
		case <-ticker.C:
			publish()
		}
	}
}

func randomReading(rng *rand.Rand, baseTemp, baseHumidity, jitter float64) readingPayload {
	humidity := baseHumidity + spread(rng, jitter)
	return readingPayload{
		Temperature: round2(baseTemp + spread(rng, jitter)),
		Humidity:    round2(math.Max(0, math.Min(100, humidity))),
	}
}

func spread(rng *rand.Rand, jitter float64) float64 {
	if jitter <= 0 {
		return 0
	}
	return (rng.Float64()*2 - 1) * jitter
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type httpPublisher struct {
	url    string
	client *http.Client
}

func newHTTPPublisher(url string, timeout time.Duration) *httpPublisher {
	return &httpPublisher{url: url, client: &http.Client{Timeout: timeout}}
}

func (p *httpPublisher) Publish(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post reading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

func (p *httpPublisher) Close() {
	p.client.CloseIdleConnections()
}

type mqttPublisher struct {
	client mqtt.Client
	topic  string
}

func newMQTTPublisher(broker, deviceID string) (*mqttPublisher, error) {
	clientID := fmt.Sprintf("%s-simulator-%d", deviceID, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("connected to MQTT broker %s as %s", broker, clientID)

	return &mqttPublisher{client: client, topic: fmt.Sprintf("sensors/%s/readings", deviceID)}, nil
}

func (p *mqttPublisher) Publish(_ context.Context, data []byte) error {
	token := p.client.Publish(p.topic, 0, false, data)
	token.Wait()
	return token.Error()
}

func (p *mqttPublisher) Close() {
	p.client.Disconnect(250)
}
