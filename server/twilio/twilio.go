package twilio

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/Daskott/safeline/colors"
	"github.com/Daskott/safeline/phone"
	"github.com/Daskott/safeline/server/logger"
	"github.com/Daskott/safeline/shared"
	"github.com/pkg/errors"
	"github.com/twilio/twilio-go"
	twilioUtil "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

var logg = logger.NewLogger()

// Message is an outgoing text, kept by clients without an account
type Message struct {
	To   string
	Body string
}

type ClientWrapper struct {
	client           *twilio.RestClient
	config           shared.TwilioConfig
	requestValidator twilioUtil.RequestValidator
	webhookBaseURL   string

	// no AccountSid configured, messages are only recorded
	unconfigured bool
	// unsigned webhook requests are accepted only in dev mode
	devMode      bool
	mu           sync.Mutex
	sentMessages []Message
}

// NewClient returns a client for the configured account. Without an AccountSid
// messages are logged & recorded instead of sent. Webhook requests then have no
// signature to check, so they're accepted in dev mode and refused otherwise.
func NewClient(config shared.TwilioConfig, appUrl string, devMode bool) *ClientWrapper {
	cw := &ClientWrapper{
		config:         config,
		webhookBaseURL: appUrl,
		unconfigured:   strings.TrimSpace(config.AccountSid) == "",
		devMode:        devMode,
	}

	if cw.unconfigured {
		logg.Warn(colors.Prefix("twilio", colors.Yellow) + "no accountSid configured, messages will only be logged")
		if !devMode {
			logg.Warn(colors.Prefix("twilio", colors.Yellow) + "sms webhook requests will be refused without an authToken to check them")
		}
		return cw
	}

	cw.client = twilio.NewRestClientWithParams(twilio.RestClientParams{
		Username: config.AccountSid,
		Password: config.AuthToken,
	})
	cw.requestValidator = twilioUtil.NewRequestValidator(config.AuthToken)

	return cw
}

// Configured reports whether messages are sent through a twilio account
func (cw *ClientWrapper) Configured() bool {
	return !cw.unconfigured
}

func (cw *ClientWrapper) SendMessage(to, msg string) error {
	if cw.unconfigured {
		cw.mu.Lock()
		cw.sentMessages = append(cw.sentMessages, Message{To: to, Body: msg})
		cw.mu.Unlock()

		logg.Infof(colors.Prefix("twilio", colors.Blue)+"message to %v: %v", phone.Mask(to), msg)
		return nil
	}

	params := &openapi.CreateMessageParams{}
	params.SetMessagingServiceSid(cw.config.MessagingServiceSid)
	params.SetTo(to)
	params.SetBody(msg)

	resp, err := cw.client.ApiV2010.CreateMessage(params)
	if err != nil {
		return errors.Wrapf(err, "failed to send message to %v", phone.Mask(to))
	}

	if resp.ErrorMessage != nil && *resp.ErrorMessage != "" {
		return fmt.Errorf("message to %v failed: %v", phone.Mask(to), *resp.ErrorMessage)
	}

	return nil
}

// SentMessages returns the messages recorded by an unconfigured client
func (cw *ClientWrapper) SentMessages() []Message {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	return append([]Message{}, cw.sentMessages...)
}

func (cw *ClientWrapper) ValidateRequest(path string, urlValues url.Values, expectedSignature string) bool {
	if cw.unconfigured {
		return cw.devMode
	}

	// Get 'urlValues' as map[string]string so it's compatible with twilio request validator
	params := make(map[string]string)
	for key, val := range urlValues {
		params[key] = strings.Join(val, ",")
	}

	return cw.requestValidator.Validate(fullRequestURL(cw.webhookBaseURL, path), params, expectedSignature)
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// TwiML returns a messaging response replying with reply, or an empty
// response when reply is empty
func TwiML(reply string) ([]byte, error) {
	body, err := xml.Marshal(twimlResponse{Message: reply})
	if err != nil {
		return nil, err
	}

	return append([]byte(xml.Header), body...), nil
}

func fullRequestURL(appUrl, path string) string {
	refinedUrl := strings.TrimSuffix(appUrl, "/")

	// Set default scheme to https
	if !strings.HasPrefix(refinedUrl, "http") {
		refinedUrl = "https://" + refinedUrl
	}

	return refinedUrl + path
}
