package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/joeshaw/envdecode"

	"coffee-telemetry/internal/discovery"
	"coffee-telemetry/internal/logging"
)

type NATS struct {
	URL      string        `env:"NATS_URL,default=nats://127.0.0.1:14222"`
	Prefix   string        `env:"NATS_PREFIX,default=coffee"`
	Timeout  time.Duration `env:"NATS_TIMEOUT,default=5s"`
	Embedded bool          `env:"NATS_EMBEDDED,default=true"`
	Host     string        `env:"NATS_EMBEDDED_HOST,default=127.0.0.1"`
	Port     int           `env:"NATS_EMBEDDED_PORT,default=14222"`
	HTTPPort int           `env:"NATS_EMBEDDED_HTTP_PORT,default=18222"`
	StoreDir string        `env:"NATS_STORE_DIR,default=data/nats"`
}

type AWS struct {
	Region          string `env:"AWS_REGION,default=eu-west-1"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	// IoTDataEndpoint is the account specific data plane host.
	IoTDataEndpoint string `env:"IOT_DATA_ENDPOINT"`
	SQSQueueURL     string `env:"SQS_QUEUE_URL"`
}

type Kafka struct {
	Brokers string `env:"KAFKA_BROKERS,default=127.0.0.1:9092"`
	Topic   string `env:"KAFKA_TOPIC,default=coffeemonitor-machines"`
}

type CloudMQTT struct {
	Broker   string `env:"CLOUD_MQTT_BROKER"`
	ClientID string `env:"CLOUD_MQTT_CLIENT_ID,default=coffee-gateway"`
	Username string `env:"CLOUD_MQTT_USERNAME"`
	Password string `env:"CLOUD_MQTT_PASSWORD"`
}

type Gateway struct {
	Mode string `env:"GATEWAY_MODE,default=server"`

	HTTPAddr      string `env:"GATEWAY_HTTP_ADDR,default=:8081"`
	MQTTAddr      string `env:"GATEWAY_MQTT_ADDR,default=:8883"`
	DiscoveryAddr string `env:"GATEWAY_DISCOVERY_ADDR,default=:8443"`
	DataDir       string `env:"GATEWAY_DATA_DIR,default=data"`

	GroupID      string `env:"GATEWAY_GROUP_ID,default=coffeemonitor-group"`
	CoreThingArn string `env:"GATEWAY_CORE_THING_ARN,default=arn:aws:iot:local:000000000000:thing/CoffeeGatewayCore"`
	// Connectivity lists the host:port pairs advertised to devices, in
	// the order they should be tried.
	Connectivity string `env:"GATEWAY_CONNECTIVITY,default=127.0.0.1:8883"`
	ServerHosts  string `env:"GATEWAY_SERVER_HOSTS,default=127.0.0.1"`
	Things       string `env:"GATEWAY_THINGS"`
	// StrictClientID refuses MQTT clients whose client id is not their
	// certificate common name.
	StrictClientID bool `env:"GATEWAY_STRICT_CLIENT_ID,default=false"`

	IngestTopic string `env:"GATEWAY_INGEST_TOPIC,default=dt/coffeemonitor/machine/+"`
	CloudTopic  string `env:"CLOUD_TOPIC,default=dt/coffeemonitor/machines"`
	Sinks       string `env:"CLOUD_SINKS,default=log"`

	NATS      NATS
	AWS       AWS
	Kafka     Kafka
	CloudMQTT CloudMQTT
	Logging   logging.Config
}

// LoadGateway reads the gateway configuration from the environment.
func LoadGateway() (Gateway, error) {
	var g Gateway
	if err := envdecode.Decode(&g); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return g, fmt.Errorf("gateway config: %w", err)
	}
	if _, err := g.ConnectivityList(); err != nil {
		return g, err
	}
	switch g.Mode {
	case "server", "lambda":
	default:
		return g, fmt.Errorf("gateway config: unknown mode %q", g.Mode)
	}
	return g, nil
}

// ConnectivityList parses Connectivity into discovery records.
func (g Gateway) ConnectivityList() ([]discovery.Connectivity, error) {
	var out []discovery.Connectivity
	for i, hp := range SplitList(g.Connectivity) {
		host, portStr, err := net.SplitHostPort(hp)
		if err != nil {
			return nil, fmt.Errorf("gateway config: connectivity %q: %w", hp, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("gateway config: connectivity %q: bad port", hp)
		}
		out = append(out, discovery.Connectivity{
			ID:          strconv.Itoa(i),
			HostAddress: host,
			PortNumber:  port,
		})
	}
	if len(out) == 0 {
		return nil, errors.New("gateway config: empty connectivity list")
	}
	return out, nil
}
