package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/noah-isme/icrrus-api/internal/models"
	"github.com/noah-isme/icrrus-api/internal/service"
)

// step is one call in the scripted walk. Path may contain {id}, replaced with
// the request created by the first step.
type step struct {
	Name   string
	Actor  models.Actor
	Method string
	Path   string
	Body   interface{}
	Expect int
	Status models.BookingStatus
}

type outcome struct {
	Step     step
	Got      int
	Status   models.BookingStatus
	Duration time.Duration
	Error    error
}

type envelope struct {
	Data struct {
		ID      string               `json:"id"`
		Status  models.BookingStatus `json:"status"`
		Request *struct {
			Status models.BookingStatus `json:"status"`
		} `json:"request"`
	} `json:"data"`
}

var (
	affiliate = models.Actor{UserID: "smoke-affiliate", Role: models.RoleAffiliateRenter}
	endorser  = models.Actor{UserID: "smoke-endorser", Role: models.RoleDepartmentEndorser}
	fmo       = models.Actor{UserID: "smoke-fmo", Role: models.RoleFacilityAdmin}
)

func main() {
	var (
		base    string
		secret  string
		issuer  string
		timeout time.Duration
		printAs string
	)

	flag.StringVar(&base, "base", "http://localhost:8080/api/v1", "API base URL including prefix")
	flag.StringVar(&secret, "jwt-secret", os.Getenv("JWT_SECRET"), "HS256 secret shared with the API")
	flag.StringVar(&issuer, "jwt-issuer", envOr("JWT_ISSUER", "icrrus-idp"), "Token issuer")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.StringVar(&printAs, "print-token", "", "Print a token for ROLE[:program] and exit")
	flag.Parse()

	if secret == "" {
		log.Fatal("jwt secret is required")
	}
	auth := service.NewAuthService(nil, service.AuthConfig{
		AccessTokenSecret: secret,
		AccessTokenExpiry: 15 * time.Minute,
		Issuer:            issuer,
	})

	if printAs != "" {
		token, err := tokenFor(auth, parseActor(printAs))
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	starts := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Hour)
	steps := []step{
		{Name: "submit", Actor: affiliate, Method: http.MethodPost, Path: "/bookings", Expect: http.StatusCreated, Status: models.BookingStatusPending,
			Body: map[string]interface{}{
				"resourceType": models.ResourceVenue,
				"resourceName": "Smoke Test Hall",
				"purpose":      "workflow smoke check",
				"startsAt":     starts,
				"endsAt":       starts.Add(2 * time.Hour),
			}},
		{Name: "out of turn", Actor: fmo, Method: http.MethodPost, Path: "/bookings/{id}/decision", Expect: http.StatusForbidden,
			Body: map[string]string{"decision": string(models.DecisionApproved)}},
		{Name: "endorse", Actor: endorser, Method: http.MethodPost, Path: "/bookings/{id}/decision", Expect: http.StatusOK, Status: models.BookingStatusPending,
			Body: map[string]string{"decision": string(models.DecisionApproved)}},
		{Name: "endorse again", Actor: endorser, Method: http.MethodPost, Path: "/bookings/{id}/decision", Expect: http.StatusConflict,
			Body: map[string]string{"decision": string(models.DecisionApproved)}},
		{Name: "facility approval", Actor: fmo, Method: http.MethodPost, Path: "/bookings/{id}/decision", Expect: http.StatusOK, Status: models.BookingStatusApproved,
			Body: map[string]string{"decision": string(models.DecisionApproved)}},
		{Name: "detail", Actor: affiliate, Method: http.MethodGet, Path: "/bookings/{id}", Expect: http.StatusOK, Status: models.BookingStatusApproved},
		{Name: "withdraw terminal", Actor: affiliate, Method: http.MethodPost, Path: "/bookings/{id}/withdraw", Expect: http.StatusConflict},
	}

	client := &http.Client{Timeout: timeout}
	var (
		results  []outcome
		failures int
		id       string
	)
	for _, s := range steps {
		res := run(client, auth, base, id, s)
		if s.Name == "submit" && res.Error == nil {
			id = res.id
		}
		if res.Error != nil || res.Got != s.Expect || (s.Status != "" && res.Status != s.Status) {
			failures++
		}
		results = append(results, res.outcome)
		if s.Name == "submit" && id == "" {
			break
		}
	}

	printReport(results)

	fmt.Printf("Failed steps: %d of %d\n", failures, len(steps))
	if failures > 0 {
		os.Exit(1)
	}
}

type runResult struct {
	outcome
	id string
}

func run(client *http.Client, auth *service.AuthService, base, id string, s step) runResult {
	res := runResult{outcome: outcome{Step: s}}
	token, err := tokenFor(auth, s.Actor)
	if err != nil {
		res.Error = err
		return res
	}

	var body io.Reader
	if s.Body != nil {
		payload, err := json.Marshal(s.Body)
		if err != nil {
			res.Error = err
			return res
		}
		body = bytes.NewReader(payload)
	}

	url := strings.TrimRight(base, "/") + strings.ReplaceAll(s.Path, "{id}", id)
	req, err := http.NewRequest(s.Method, url, body)
	if err != nil {
		res.Error = err
		return res
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Error = err
		return res
	}
	defer resp.Body.Close()
	res.Got = resp.StatusCode

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		res.Error = fmt.Errorf("read body: %w", err)
		return res
	}
	var env envelope
	if len(raw) > 0 && json.Unmarshal(raw, &env) == nil {
		res.id = env.Data.ID
		res.Status = env.Data.Status
		if env.Data.Request != nil {
			res.Status = env.Data.Request.Status
		}
	}
	if s.Name == "submit" && res.Got == http.StatusCreated && res.id == "" {
		res.Error = errors.New("response carried no request id")
	}
	return res
}

func tokenFor(auth *service.AuthService, actor models.Actor) (string, error) {
	token, _, err := auth.IssueToken(actor, "")
	return token, err
}

// parseActor reads ROLE[:program] as used by -print-token.
func parseActor(value string) models.Actor {
	role, program, _ := strings.Cut(value, ":")
	actor := models.Actor{UserID: "dev-" + strings.ToLower(role), Role: models.Role(strings.ToUpper(role))}
	if program != "" {
		actor.Program = models.Program(strings.ToUpper(program))
	}
	if actor.Role == models.RoleServiceDepartmentAdmin {
		actor.Department = models.DepartmentITSO
	}
	return actor
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printReport(results []outcome) {
	fmt.Println("Workflow Smoke Report")
	fmt.Println("=====================")
	for _, res := range results {
		status := "OK"
		if res.Error != nil {
			status = "ERROR"
		} else if res.Got != res.Step.Expect || (res.Step.Status != "" && res.Status != res.Step.Status) {
			status = "FAIL"
		}
		fmt.Printf("[%s] %s: %s %s as %s\n", status, res.Step.Name, res.Step.Method, res.Step.Path, res.Step.Actor.Role)
		if res.Error != nil {
			fmt.Printf("  Error: %v\n", res.Error)
			continue
		}
		fmt.Printf("  HTTP %d (want %d) in %s\n", res.Got, res.Step.Expect, res.Duration)
		if res.Step.Status != "" {
			fmt.Printf("  Request status %s (want %s)\n", res.Status, res.Step.Status)
		}
	}
}
