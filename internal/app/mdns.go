package app

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/grandcat/zeroconf"

	"sensorhub/sensor-server/internal/config"
)

const (
	mdnsServiceType = "_sensordata._tcp"
	mdnsDomain      = "local."
	mdnsMaxLabel    = 63
)

// advertisement is what the server announces so devices on the local network can find the
// ingestion endpoints without configuration.
type advertisement struct {
	Instance string
	Port     int
	TXT      []string
}

func newAdvertisement(hostname string, port int, mq config.MQTT) (advertisement, error) {
	if port < 1 || port > 65535 {
		return advertisement{}, fmt.Errorf("invalid port %d", port)
	}

	host := hostLabel(hostname)
	txt := []string{
		"proto=v1",
		fmt.Sprintf("host=%s.local", host),
		"ingest=/sensor_data",
		"latest=/sensor_data/latest",
	}
	if mq.Enabled() {
		txt = append(txt, "mqtt_topic="+mq.Topic)
	}

	return advertisement{
		Instance: truncateRunes("sensor-server@"+host, mdnsMaxLabel),
		Port:     port,
		TXT:      txt,
	}, nil
}

// hostLabel reduces a hostname to its first DNS label in lower case with runs of other
// characters collapsed to a hyphen.
func hostLabel(hostname string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(hostname), ".")

	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(first) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen && b.Len() > 0 {
			b.WriteByte('-')
			hyphen = true
		}
	}

	label := strings.TrimSuffix(truncateRunes(b.String(), mdnsMaxLabel), "-")
	if label == "" {
		return "sensor-server"
	}
	return label
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func (a *App) advertise(ad advertisement) error {
	a.withdraw()

	server, err := zeroconf.Register(ad.Instance, mdnsServiceType, mdnsDomain, ad.Port, ad.TXT, nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}

	a.mdns = server
	a.logger.Info("mDNS advertisement started", "instance", ad.Instance, "service", mdnsServiceType, "port", ad.Port)
	return nil
}

func (a *App) withdraw() {
	if a.mdns == nil {
		return
	}
	a.mdns.Shutdown()
	a.mdns = nil
	a.logger.Info("mDNS advertisement stopped")
}
