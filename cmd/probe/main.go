// Command probe logs in to the Poschodoch portal once and prints the latest
// daily reading of every meter of a flat.
//
// Usage:
//
//	probe --username USER --password PASS --flat-name NAME [--base-url URL]
//
// Flags default to the APP_UPSTREAM_* variables, which may come from a .env
// file. The exit code is 2 when the portal returns no records and 1 on any
// other failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/poschodech/internal/api"
	"github.com/tejusbharadwaj/poschodech/internal/models"
)

const exitNoRecords = 2

func main() {
	_ = godotenv.Load()

	username := flag.String("username", os.Getenv("APP_UPSTREAM_USERNAME"), "portal username")
	password := flag.String("password", os.Getenv("APP_UPSTREAM_PASSWORD"), "portal password")
	flatName := flag.String("flat-name", os.Getenv("APP_UPSTREAM_FLAT_NAME"), "flat name used as the Search parameter")
	baseURL := flag.String("base-url", api.DefaultBaseURL, "portal API base URL")
	verbose := flag.Bool("v", false, "log requests to stderr")
	flag.Parse()

	if *username == "" || *password == "" || *flatName == "" {
		fmt.Fprintln(os.Stderr, "username, password and flat-name are required")
		flag.Usage()
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if *verbose {
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.DebugLevel)
	}

	client, err := api.NewClient(&http.Client{}, api.Config{
		BaseURL:  *baseURL,
		Username: *username,
		Password: *password,
	}, logger)
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := client.Login(ctx); err != nil {
		fail(err)
	}
	payload, err := client.FetchLatestForFlat(ctx, *flatName)
	if err != nil {
		fail(err)
	}

	records := api.ExtractRecords(payload)
	if len(records) == 0 {
		fmt.Println("No records found. Check flat name or date range.")
		os.Exit(exitNoRecords)
	}

	for _, record := range records {
		fmt.Println(formatRecord(record))
	}
}

func formatRecord(record models.ReadingRecord) string {
	value := "unknown"
	if v, ok := api.ParseStateTo(record); ok {
		value = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprintf("%s: %s %s (Apartment=%v, Type=%v)",
		api.MakeKey(record), value, api.Unit(record),
		record[models.FieldApartment], record[models.FieldType])
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "probe failed (%s): %v\n", api.Classify(err), err)
	os.Exit(1)
}
