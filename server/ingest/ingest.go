package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Daskott/safeline/colors"
	"github.com/Daskott/safeline/server/location"
	"github.com/Daskott/safeline/server/logger"
	"github.com/Daskott/safeline/server/models"
	"github.com/Daskott/safeline/shared"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

const (
	LOCATION_TOPIC = "location"
	SOS_TOPIC      = "sos"

	connectTimeout = 10 * time.Second
)

var (
	ErrUnknownTopic = errors.New("topic is not handled")

	logg = logger.NewLogger()
)

type LocationUpdater interface {
	Update(user *models.User, live *models.LiveLocation) (*location.LocationPayload, error)
}

type SosTrigger interface {
	TriggerNow(user *models.User, source, message string) (*models.SosAlert, bool, error)
}

type locationMessage struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Address   string   `json:"address"`
}

type sosMessage struct {
	Message string `json:"message"`
}

// Ingestor feeds locations & SOS triggers published by devices over MQTT into the
// tracker & dispatcher. Topics are '<prefix>/users/<id>/location' and
// '<prefix>/users/<id>/sos'. Which device may publish for which user is left to
// the broker's ACLs.
type Ingestor struct {
	client  mqtt.Client
	prefix  string
	tracker LocationUpdater
	sos     SosTrigger
}

func NewIngestor(config shared.MqttConfig, tracker LocationUpdater, sos SosTrigger) *Ingestor {
	ingestor := &Ingestor{
		prefix:  strings.Trim(config.TopicPrefix, "/"),
		tracker: tracker,
		sos:     sos,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetUsername(config.Username).
		SetPassword(config.Password).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(func(client mqtt.Client) {
			// Subscriptions don't survive a reconnect with a clean session
			if err := ingestor.subscribe(client); err != nil {
				ingestor.logError(err)
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			ingestor.logError("connection lost: ", err)
		})

	ingestor.client = mqtt.NewClient(opts)
	return ingestor
}

// Start connects to the broker, subscriptions are made once connected
func (ingestor *Ingestor) Start() error {
	token := ingestor.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("timed out connecting to mqtt broker")
	}

	if err := token.Error(); err != nil {
		return errors.Wrap(err, "failed to connect to mqtt broker")
	}

	ingestor.logInfof("connected, listening on %v/users/+/{%v,%v}", ingestor.prefix, LOCATION_TOPIC, SOS_TOPIC)
	return nil
}

func (ingestor *Ingestor) Stop() {
	ingestor.client.Disconnect(250)
	ingestor.logInfof("disconnected")
}

func (ingestor *Ingestor) subscribe(client mqtt.Client) error {
	filters := map[string]byte{
		fmt.Sprintf("%v/users/+/%v", ingestor.prefix, LOCATION_TOPIC): 0,
		fmt.Sprintf("%v/users/+/%v", ingestor.prefix, SOS_TOPIC):      1,
	}

	token := client.SubscribeMultiple(filters, func(_ mqtt.Client, message mqtt.Message) {
		if err := ingestor.handleMessage(message.Topic(), message.Payload()); err != nil {
			ingestor.logError(fmt.Sprintf("dropping message on %v: ", message.Topic()), err)
		}
	})

	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("timed out subscribing to %v", ingestor.prefix)
	}
	return token.Error()
}

func (ingestor *Ingestor) handleMessage(topic string, payload []byte) error {
	userID, kind, err := parseTopic(ingestor.prefix, topic)
	if err != nil {
		return err
	}

	user, err := models.FindUserBy("id", userID)
	if err != nil {
		return errors.Wrapf(err, "unknown user %v", userID)
	}

	switch kind {
	case LOCATION_TOPIC:
		message := locationMessage{}
		if err := json.Unmarshal(payload, &message); err != nil {
			return errors.Wrap(err, "malformed location payload")
		}

		if message.Latitude == nil || message.Longitude == nil {
			return fmt.Errorf("location payload needs latitude & longitude")
		}

		_, err = ingestor.tracker.Update(user, &models.LiveLocation{
			Latitude:  *message.Latitude,
			Longitude: *message.Longitude,
			Accuracy:  message.Accuracy,
			Address:   message.Address,
		})
		return err

	case SOS_TOPIC:
		message := sosMessage{}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &message); err != nil {
				return errors.Wrap(err, "malformed sos payload")
			}
		}

		alert, created, err := ingestor.sos.TriggerNow(user, models.DEVICE_SOS_SOURCE, message.Message)
		if err != nil {
			return err
		}

		if created {
			ingestor.logInfof("device raised sos alert id=%v for user=%v", alert.ID, user.ID)
		}
		return nil
	}

	return ErrUnknownTopic
}

// parseTopic splits '<prefix>/users/<id>/<kind>'
func parseTopic(prefix, topic string) (uint, string, error) {
	rest := strings.TrimPrefix(topic, prefix+"/")
	if rest == topic {
		return 0, "", ErrUnknownTopic
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] != "users" {
		return 0, "", ErrUnknownTopic
	}

	userID, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || userID == 0 {
		return 0, "", fmt.Errorf("%w: invalid user id %q", ErrUnknownTopic, parts[1])
	}

	if parts[2] != LOCATION_TOPIC && parts[2] != SOS_TOPIC {
		return 0, "", ErrUnknownTopic
	}

	return uint(userID), parts[2], nil
}

func (ingestor *Ingestor) logInfof(template string, args ...interface{}) {
	logg.Infof(colors.Prefix("mqtt", colors.Green)+template, args...)
}

func (ingestor *Ingestor) logError(args ...interface{}) {
	logg.Error(append([]interface{}{colors.Prefix("mqtt", colors.Red)}, args...)...)
}
