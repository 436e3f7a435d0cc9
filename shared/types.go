package shared

type ServerConfig struct {
	Sqlite   SqliteConfig   `mapstructure:"sqlite" validate:"required"`
	Safeline SafelineConfig `mapstructure:"safeline" validate:"required"`
	Google   GoogleConfig   `mapstructure:"google"`
	Twilio   TwilioConfig   `mapstructure:"twilio"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mqtt     MqttConfig     `mapstructure:"mqtt"`
}

type SqliteConfig struct {
	PassPhrase string `mapstructure:"passPhrase" validate:"required"`
}

type SafelineConfig struct {
	// PrivateKeyPem signs auth tokens. In dev mode an ephemeral key is
	// generated when it's empty.
	PrivateKeyPem string           `mapstructure:"privateKeyPem"`
	AppUrl        string           `mapstructure:"appUrl"`
	Cron          CronConfig       `mapstructure:"cron" validate:"required"`
	Listener      ListenerConfig   `mapstructure:"listener" validate:"required"`
	Workers       int              `mapstructure:"workers" validate:"min=1,max=25"`
	Phone         PhoneConfig      `mapstructure:"phone"`
	Invitations   InvitationConfig `mapstructure:"invitations"`
	Location      LocationConfig   `mapstructure:"location"`
	Sos           SosConfig        `mapstructure:"sos"`
}

type CronConfig struct {
	TimeZone string `mapstructure:"timeZone" validate:"required"`
}

type ListenerConfig struct {
	Port int `mapstructure:"port" validate:"required"`
}

type PhoneConfig struct {
	DefaultCountryCode string `mapstructure:"defaultCountryCode" validate:"required"`
}

type InvitationConfig struct {
	ExpiryInHours int `mapstructure:"expiryInHours" validate:"min=1"`
	MaxResends    int `mapstructure:"maxResends" validate:"min=0"`
}

type LocationConfig struct {
	StaleAfterInMinutes int `mapstructure:"staleAfterInMinutes" validate:"min=1"`
}

type SosConfig struct {
	CountdownInSeconds    int `mapstructure:"countdownInSeconds" validate:"min=1,max=120"`
	MaxCountdownInSeconds int `mapstructure:"maxCountdownInSeconds" validate:"gtefield=CountdownInSeconds,max=600"`
}

type GoogleConfig struct {
	ApplicationCredentials string        `mapstructure:"applicationCredentials"`
	Storage                StorageConfig `mapstructure:"storage"`
}

type StorageConfig struct {
	Bucket                    string `mapstructure:"bucket" validate:"required_with=EnableSqliteBackupAndSync"`
	Prefix                    string `mapstructure:"prefix" validate:"required_with=EnableSqliteBackupAndSync"`
	SqliteBackupSchedule      string `mapstructure:"sqliteBackupSchedule" validate:"required_with=EnableSqliteBackupAndSync"`
	EnableSqliteBackupAndSync bool   `mapstructure:"enableSqliteBackupAndSync"`
}

// TwilioConfig is optional. With an empty AccountSid outgoing messages are
// only logged.
type TwilioConfig struct {
	AccountSid          string `mapstructure:"accountSid"`
	AuthToken           string `mapstructure:"authToken" validate:"required_with=AccountSid"`
	MessagingServiceSid string `mapstructure:"messagingServiceSid" validate:"required_with=AccountSid"`
}

// RedisConfig enables the cross instance location relay when Addr is set
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
}

// MqttConfig enables device ingestion when Broker is set
type MqttConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"clientId" validate:"required_with=Broker"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topicPrefix" validate:"required_with=Broker"`
}
