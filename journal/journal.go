// Copyright (c) 2025 The NeuroStore Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/neurostuff/nsingest/config"
)

// This is the ingestion run journal, which logs all pipeline activity. The journal is a table of
// run records (one per pipeline run).

// a record storing all information relevant to a pipeline run
type Record struct {
	// UUID associated with the run
	Id uuid.UUID `json:"id"`
	// the label of the run's manifest, when one was configured
	Label string `json:"label,omitempty"`
	// the stages the run executed, in canonical order
	Stages []string `json:"stages"`
	// times at which the run started and at which it completed
	StartTime time.Time `json:"start_time"`
	StopTime  time.Time `json:"stop_time"`
	// status of the run ("succeeded", "failed", or "canceled")
	Status string `json:"status"`
	// per-stage output counts (identifiers gathered, articles downloaded, ...)
	Counts map[string]int `json:"counts,omitempty"`
	// per-article upload outcomes for the run (stored separate from record)
	Outcomes []ArticleOutcome `json:"-"`
}

// ArticleOutcome summarizes one article's fate in a run.
type ArticleOutcome struct {
	Slug        string `json:"slug"`
	BaseStudyID string `json:"base_study_id,omitempty"`
	StudyID     string `json:"study_id,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// initialize the run journal
func Init() error {
	if !IsOpen() {
		go runJournalProcess()
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

// saves and closes the run journal (if it's been opened)
func Finalize() error {
	if IsOpen() {
		channels_.Input.Shutdown <- struct{}{}
		closeChannels()
	}
	return nil
}

// returns true if the journal is open for writing, false if not
func IsOpen() bool {
	if channels_.Open { // has Init() been called?
		channels_.Input.CheckIfOpen <- struct{}{}
		select {
		case isOpen := <-channels_.Output.IsOpen:
			return isOpen
		case <-time.After(1 * time.Second): // after a second, we assume the goroutine has crashed
			closeChannels()
			return false
		}
	}
	return false
}

// records a completed pipeline run
// record: the record containing all run information
func RecordRun(record Record) error {
	switch record.Status {
	case "succeeded", "failed", "canceled":
		// pass-through (see below)
	default:
		return &NewRecordError{
			Id:      record.Id,
			Message: fmt.Sprintf("Invalid status: %s", record.Status),
		}
	}

	if !IsOpen() {
		return &NotOpenError{}
	}

	channels_.Input.CreateRecord <- record
	return <-channels_.Output.Error
}

// retrieves records for runs that started within the time range with the
// given (inclusive) bounds
// start: the beginning of the time period of interest
// stop: the end of the time period of interest
func Records(start, stop time.Time) ([]Record, error) {
	if !IsOpen() {
		return nil, &NotOpenError{}
	}
	channels_.Input.FetchRecords <- TimeRange{Start: start, Stop: stop}
	var records []Record
	var err error
	select {
	case records = <-channels_.Output.Records:
		return records, err
	case err = <-channels_.Output.Error:
		return records, err
	}
}

//-----------
// Internals
//-----------

// records are keyed by start time; the fixed-width fraction keeps the keys
// byte-ordered and distinct for runs started within the same second
const recordKeyLayout = "2006-01-02T15:04:05.000000000Z07:00"

// The run journal gets its own goroutine so it doesn't bring down the whole
// pipeline if it crashes. Here we define "input" channels (main process ->
// goroutine) and "output" channels (goroutine -> main process) for passing
// data back and forth

type TimeRange struct {
	Start, Stop time.Time
}

var channels_ struct {
	Open  bool // true if channels are open, false if not
	Input struct {
		CreateRecord chan Record    // for creating new records
		CheckIfOpen  chan struct{}  // for checking to see whether the database is open
		FetchRecords chan TimeRange // for fetching records within a time range
		Shutdown     chan struct{}  // for shutting down the database
	}

	Output struct {
		Records chan []Record // for returning records
		Error   chan error    // for returning errors
		IsOpen  chan bool     // for answering queries about whether the database is open
	}
}

func runJournalProcess() {

	// open the database, creating the schema if necessary
	dbPath := filepath.Join(config.Dirs.DataRoot, "run_journal.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		// the channels aren't open yet, so IsOpen reports the failure
		slog.Error("couldn't open the run journal", "path", dbPath, "error", err.Error())
		return
	}

	// set up buckets for run records and per-article outcomes
	db.Update(func(tx *bolt.Tx) error {
		for _, bucketName := range []string{"runs", "outcomes"} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucketName)); err != nil {
				return err
			}
		}
		return nil
	})

	openChannels()

	// handle requests
	running := true
	for running {
		select {

		case <-channels_.Input.CheckIfOpen:
			channels_.Output.IsOpen <- true // always true if this goroutine is running!

		case record := <-channels_.Input.CreateRecord:
			err := createRecord(db, record)
			channels_.Output.Error <- err

		case timeRange := <-channels_.Input.FetchRecords:
			records, err := fetchRecords(db, timeRange.Start, timeRange.Stop)
			if err != nil {
				channels_.Output.Error <- err
			} else {
				channels_.Output.Records <- records
			}

		case <-channels_.Input.Shutdown:
			err := db.Close()
			if err != nil {
				channels_.Output.Error <- &CantCloseError{
					Message: err.Error(),
				}
			}
			running = false
		}
	}
}

func openChannels() {
	channels_.Open = true
	channels_.Input.CreateRecord = make(chan Record)
	channels_.Input.CheckIfOpen = make(chan struct{})
	channels_.Input.FetchRecords = make(chan TimeRange)
	channels_.Input.Shutdown = make(chan struct{})
	channels_.Output.Records = make(chan []Record)
	channels_.Output.Error = make(chan error)
	channels_.Output.IsOpen = make(chan bool)
}

func closeChannels() {
	channels_.Open = false
	close(channels_.Input.CreateRecord)
	close(channels_.Input.CheckIfOpen)
	close(channels_.Input.FetchRecords)
	close(channels_.Input.Shutdown)
	close(channels_.Output.Records)
	close(channels_.Output.Error)
	close(channels_.Output.IsOpen)
}

func createRecord(db *bolt.DB, record Record) error {
	startTime := record.StartTime.UTC().Format(recordKeyLayout)

	tx, err := db.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// store the run record, indexing it by its start time
	bucket := tx.Bucket([]byte("runs"))

	jsonBytes, err := json.Marshal(&record)
	if err != nil {
		return &NewRecordError{
			Id:      record.Id,
			Message: err.Error(),
		}
	}
	if err := bucket.Put([]byte(startTime), jsonBytes); err != nil {
		return err
	}

	// if the run produced article outcomes, store them (indexed by UUID)
	if len(record.Outcomes) > 0 {
		jsonOutcomes, err := json.Marshal(record.Outcomes)
		if err != nil {
			return &NewRecordError{
				Id:      record.Id,
				Message: err.Error(),
			}
		}
		bucket := tx.Bucket([]byte("outcomes"))
		if err := bucket.Put([]byte(record.Id.String()), jsonOutcomes); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func fetchRecords(db *bolt.DB, start, stop time.Time) ([]Record, error) {
	records := make([]Record, 0)
	err := db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte("runs")).Cursor()

		startTime := []byte(start.UTC().Format(recordKeyLayout))
		stopTime := []byte(stop.UTC().Format(recordKeyLayout))

		for k, v := c.Seek(startTime); k != nil && bytes.Compare(k, stopTime) <= 0; k, v = c.Next() {
			var record Record
			err := json.Unmarshal(v, &record)
			if err != nil {
				return err
			}
			records = append(records, record)
		}

		// attach the article outcomes stored for each run
		bucket := tx.Bucket([]byte("outcomes"))
		for i := range records {
			m := bucket.Get([]byte(records[i].Id.String()))
			if m == nil {
				continue
			}
			if err := json.Unmarshal(m, &records[i].Outcomes); err != nil {
				return &InvalidRecordError{
					Id:      records[i].Id,
					Message: "unable to retrieve article outcomes for run",
				}
			}
		}
		return nil
	})

	return records, err
}
