package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// duration accepts "15m" style strings or integer nanoseconds.
type duration time.Duration

func (d *duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = duration(time.Duration(val))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		*d = duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

// fileConfig is the JSON file layout. Absent or zero fields keep the current value.
type fileConfig struct {
	HTTPAddr       string   `json:"http_addr"`
	DatabaseDSN    string   `json:"database_dsn"`
	JWTKey         string   `json:"jwt_key"`
	JWTIssuer      string   `json:"jwt_issuer"`
	RequestTimeout duration `json:"request_timeout"`
	GracePeriod    duration `json:"grace_period"`
	InviteTTL      duration `json:"invite_ttl"`
	SweepInterval  duration `json:"sweep_interval"`
	CORSOrigins    []string `json:"cors_origins"`
	InviteWindow   duration `json:"invite_window"`
	InviteMaxFails int      `json:"invite_max_fails"`
	InviteBlock    duration `json:"invite_block"`
	S3Bucket       string   `json:"s3_bucket"`
	S3Region       string   `json:"s3_region"`
	S3Endpoint     string   `json:"s3_endpoint"`
	S3AccessKey    string   `json:"s3_access_key"`
	S3SecretKey    string   `json:"s3_secret_key"`
	Dev            bool     `json:"dev"`
}

func applyJSON(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := json.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.HTTPAddr, fc.HTTPAddr)
	setString(&cfg.DatabaseDSN, fc.DatabaseDSN)
	setString(&cfg.JWTKey, fc.JWTKey)
	setString(&cfg.JWTIssuer, fc.JWTIssuer)
	setDuration(&cfg.RequestTimeout, fc.RequestTimeout)
	setDuration(&cfg.GracePeriod, fc.GracePeriod)
	setDuration(&cfg.InviteTTL, fc.InviteTTL)
	setDuration(&cfg.SweepInterval, fc.SweepInterval)
	if fc.CORSOrigins != nil {
		cfg.CORSOrigins = fc.CORSOrigins
	}
	setDuration(&cfg.InviteWindow, fc.InviteWindow)
	if fc.InviteMaxFails != 0 {
		cfg.InviteMaxFails = fc.InviteMaxFails
	}
	setDuration(&cfg.InviteBlock, fc.InviteBlock)
	setString(&cfg.S3Bucket, fc.S3Bucket)
	setString(&cfg.S3Region, fc.S3Region)
	setString(&cfg.S3Endpoint, fc.S3Endpoint)
	setString(&cfg.S3AccessKey, fc.S3AccessKey)
	setString(&cfg.S3SecretKey, fc.S3SecretKey)
	cfg.Dev = cfg.Dev || fc.Dev
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v duration) {
	if v != 0 {
		*dst = time.Duration(v)
	}
}
