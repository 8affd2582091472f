package main

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/clinic-portal/cmd/mainconfig"
	"github.com/wolfman30/clinic-portal/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-portal/internal/config"
	"github.com/wolfman30/clinic-portal/internal/notify"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

const maxBodyBytes = 256 << 10

type function struct {
	sender notify.EmailSender
	secret string
	logger *logging.Logger
}

type sendRequest struct {
	To       string `json:"to"`
	ToName   string `json:"to_name,omitempty"`
	Subject  string `json:"subject"`
	Text     string `json:"text,omitempty"`
	HTML     string `json:"html,omitempty"`
	OrgID    string `json:"org_id,omitempty"`
	Category string `json:"category,omitempty"`
}

func (r sendRequest) message() notify.EmailMessage {
	category := strings.TrimSpace(r.Category)
	if category == "" {
		category = "portal"
	}
	return notify.EmailMessage{
		To:       strings.TrimSpace(r.To),
		ToName:   strings.TrimSpace(r.ToName),
		Subject:  strings.TrimSpace(r.Subject),
		Body:     r.Text,
		HTML:     r.HTML,
		OrgID:    strings.TrimSpace(r.OrgID),
		Category: category,
	}
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	awsCfg, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		panic(err)
	}

	fn := &function{
		sender: bootstrap.BuildEmailSender(cfg, sesv2.NewFromConfig(awsCfg), nil, logger),
		secret: strings.TrimSpace(os.Getenv("EMAIL_FUNCTION_SECRET")),
		logger: logger,
	}
	lambda.Start(fn.handle)
}

func (f *function) handle(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}

	if path == "/health" || path == "/_health" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Body: "ok"}, nil
	}
	if method == http.MethodOptions {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNoContent}, nil
	}
	if method != http.MethodPost {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusMethodNotAllowed}, nil
	}
	switch path {
	case "/", "/send", "/send-email":
	default:
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNotFound}, nil
	}

	if f.secret != "" {
		got := strings.TrimPrefix(headerValue(evt.Headers, "authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(f.secret)) != 1 {
			return jsonResponse(http.StatusUnauthorized, map[string]string{"error": "unauthorized"}), nil
		}
	}

	body, err := decodeBody(evt)
	if err != nil || len(body) > maxBodyBytes {
		return jsonResponse(http.StatusBadRequest, map[string]string{"error": "invalid body"}), nil
	}
	var req sendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return jsonResponse(http.StatusBadRequest, map[string]string{"error": "invalid JSON body"}), nil
	}
	msg := req.message()
	if err := msg.Validate(); err != nil {
		return jsonResponse(http.StatusBadRequest, map[string]string{"error": err.Error()}), nil
	}

	if err := f.sender.Send(ctx, msg); err != nil {
		f.logger.Error("email send failed", "to", req.To, "error", err)
		return jsonResponse(http.StatusBadGateway, map[string]string{"error": "email provider error"}), nil
	}
	f.logger.Info("email sent", "to", req.To)
	return jsonResponse(http.StatusOK, map[string]bool{"sent": true}), nil
}

func jsonResponse(status int, payload any) events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(payload)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"content-type": "application/json"},
	}
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	return base64.StdEncoding.DecodeString(evt.Body)
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
