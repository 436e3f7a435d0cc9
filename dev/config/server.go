package config

// DEFAULT_SERVER_YML is written to dev/config/server.yml the first time the
// server runs with --dev. Leaving privateKeyPem empty makes the server
// generate a throwaway signing key on every start.
const DEFAULT_SERVER_YML = `
safeline:
  privateKeyPem:
  appUrl: "http://localhost:3000"
  workers: 2
  cron:
    timeZone: "America/Toronto"
  listener:
    port: 3000
  phone:
    defaultCountryCode: "1"
  invitations:
    expiryInHours: 168
    maxResends: 3
  location:
    staleAfterInMinutes: 10
  sos:
    countdownInSeconds: 10
    maxCountdownInSeconds: 120

sqlite:
  passPhrase: passphrase

google:
  storage:
    bucket: "safeline"
    prefix: "safeline-dev"
    sqliteBackupSchedule: "*/30 * * * *"
    enableSqliteBackupAndSync: false
  applicationCredentials:

twilio:
  accountSid:
  authToken:
  messagingServiceSid:

redis:
  addr:
  db: 0

mqtt:
  broker:
  clientId: "safeline-dev"
  topicPrefix: "safeline"
`
