package location

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Daskott/safeline/colors"
	"github.com/Daskott/safeline/server/models"
	"github.com/Daskott/safeline/shared"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	RELAY_CHANNEL      = "safeline:locations"
	LOCATION_CACHE_KEY = "safeline:location:%v"
)

// envelope is what travels over the relay channel
type envelope struct {
	Recipients []uint          `json:"recipients"`
	Event      json.RawMessage `json:"event"`
}

// RedisRelay shares events between server instances over redis pub/sub & caches
// the latest location of each user
type RedisRelay struct {
	client   *redis.Client
	cacheTTL time.Duration
}

func NewRedisRelay(config shared.RedisConfig, cacheTTL time.Duration) (*RedisRelay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %v", config.Addr)
	}

	return &RedisRelay{client: client, cacheTTL: cacheTTL}, nil
}

// Publish sends event for recipients to every instance, this one included
func (relay *RedisRelay) Publish(ctx context.Context, recipients []uint, event Event) error {
	data, err := event.encode()
	if err != nil {
		return err
	}

	message, err := json.Marshal(envelope{Recipients: recipients, Event: data})
	if err != nil {
		return err
	}

	return relay.client.Publish(ctx, RELAY_CHANNEL, message).Err()
}

// Listen forwards events published by any instance to hub until ctx is done
func (relay *RedisRelay) Listen(ctx context.Context, hub *Hub) {
	pubsub := relay.client.Subscribe(ctx, RELAY_CHANNEL)
	defer pubsub.Close()

	logg.Infof(colors.Prefix("relay", colors.Magenta)+"listening on %v", RELAY_CHANNEL)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			logg.Info(colors.Prefix("relay", colors.Magenta) + "stopped listening")
			return
		case message, ok := <-messages:
			if !ok {
				return
			}

			received := envelope{}
			if err := json.Unmarshal([]byte(message.Payload), &received); err != nil {
				logg.Errorf(colors.Prefix("relay", colors.Red)+"dropping malformed message: %v", err)
				continue
			}

			hub.sendRaw(received.Recipients, received.Event)
		}
	}
}

// CacheLocation keeps location in a hash which expires with the location itself
func (relay *RedisRelay) CacheLocation(ctx context.Context, location *models.LiveLocation) error {
	key := fmt.Sprintf(LOCATION_CACHE_KEY, location.UserID)

	pipe := relay.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":         location.ID,
		"user_id":    location.UserID,
		"latitude":   location.Latitude,
		"longitude":  location.Longitude,
		"accuracy":   location.Accuracy,
		"address":    location.Address,
		"status":     location.Status,
		"updated_at": location.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, relay.cacheTTL)

	_, err := pipe.Exec(ctx)
	return err
}

// ForgetLocation drops the cached location of userID
func (relay *RedisRelay) ForgetLocation(ctx context.Context, userID uint) error {
	return relay.client.Del(ctx, fmt.Sprintf(LOCATION_CACHE_KEY, userID)).Err()
}

// CachedLocation returns the cached location of userID, redis.Nil when missing
func (relay *RedisRelay) CachedLocation(ctx context.Context, userID uint) (*models.LiveLocation, error) {
	values, err := relay.client.HGetAll(ctx, fmt.Sprintf(LOCATION_CACHE_KEY, userID)).Result()
	if err != nil {
		return nil, err
	}

	if len(values) == 0 {
		return nil, redis.Nil
	}

	return parseCachedLocation(values)
}

func (relay *RedisRelay) Close() error {
	return relay.client.Close()
}

func parseCachedLocation(values map[string]string) (*models.LiveLocation, error) {
	location := &models.LiveLocation{Address: values["address"], Status: values["status"]}

	var err error
	parseFloat := func(field string) float64 {
		if err != nil {
			return 0
		}

		var value float64
		value, err = strconv.ParseFloat(values[field], 64)
		if err != nil {
			err = errors.Wrapf(err, "invalid cached %v", field)
		}
		return value
	}

	location.Latitude = parseFloat("latitude")
	location.Longitude = parseFloat("longitude")
	location.Accuracy = parseFloat("accuracy")
	if err != nil {
		return nil, err
	}

	id, err := strconv.ParseUint(values["id"], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "invalid cached id")
	}
	location.ID = uint(id)

	userID, err := strconv.ParseUint(values["user_id"], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "invalid cached user_id")
	}
	location.UserID = uint(userID)

	location.UpdatedAt, err = time.Parse(time.RFC3339Nano, values["updated_at"])
	if err != nil {
		return nil, errors.Wrap(err, "invalid cached updated_at")
	}

	return location, nil
}
