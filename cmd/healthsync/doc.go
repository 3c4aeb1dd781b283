// Command healthsync copies one day of health data into date-keyed worksheet rows.
//
// Subcommands:
//   - sync <source>... runs sources once for --date (default yesterday in the configured
//     time zone); --dry-run prints the rows instead of writing them.
//   - serve exposes POST /v1/sync/{source} and run status endpoints, running queued
//     syncs one at a time.
//   - snapshot captures the HeartCloud sessions page to the artifact store.
//
// Configuration comes from an optional YAML file (--config), HEALTHSYNC_* environment
// variables and the secret variables OURA_TOKEN, HEARTCLOUD_EMAIL, HEARTCLOUD_PASSWORD,
// STRAVA_CLIENT_ID, STRAVA_CLIENT_SECRET, STRAVA_REFRESH_TOKEN, MYAIR_EMAIL, MYAIR_PASSWORD
// and GOOGLE_CREDENTIALS_JSON. A .env file in the working directory is loaded first.
package main
