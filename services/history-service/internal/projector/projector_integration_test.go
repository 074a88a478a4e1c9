//go:build integration

package projector_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/carelink/apptpipeline/libs/consumer"
	"github.com/carelink/apptpipeline/libs/events"
	"github.com/carelink/apptpipeline/libs/kafkax"
	"github.com/carelink/apptpipeline/libs/testsuite"
	"github.com/carelink/apptpipeline/libs/topology"
	"github.com/carelink/apptpipeline/services/history-service/internal/projector"
	"github.com/carelink/apptpipeline/services/history-service/internal/storage"
	"github.com/carelink/apptpipeline/services/history-service/migrations"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"
)

type ProjectorSuite struct {
	testsuite.BaseSuite

	topo topology.Config
	repo *storage.HistoryRepository
}

func (s *ProjectorSuite) SetupSuite() {
	s.StartPostgres(migrations.FS)
	s.StartKafka()

	s.topo = topology.Default()
	s.Require().NoError(topology.Declare(s.Ctx, s.KafkaBrokers, s.topo))
	s.repo = storage.NewHistoryRepository(s.DbPool)
}

func (s *ProjectorSuite) TearDownSuite() {
	s.TearDownInfrastructure()
}

func (s *ProjectorSuite) SetupTest() {
	s.TruncateTable("appointment_history")
}

func snapshot(id, version int64, typ events.Type) events.AppointmentEvent {
	return events.AppointmentEvent{
		AppointmentID:   id,
		PatientID:       7,
		PatientName:     "Ada Lovelace",
		PatientEmail:    "ada@example.com",
		DoctorID:        3,
		DoctorName:      "Dr. Grace Hopper",
		AppointmentDate: time.Date(2030, 5, 1, 9, 30, 0, 0, time.UTC),
		EventType:       typ,
		Version:         version,
		OccurredAt:      time.Date(2030, 4, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (s *ProjectorSuite) TestSaveIsCompareAndSet() {
	ok, err := s.repo.InsertIfAbsent(s.Ctx, storage.Record{
		AppointmentID:   1,
		PatientID:       7,
		PatientName:     "Ada Lovelace",
		PatientEmail:    "ada@example.com",
		DoctorID:        3,
		DoctorName:      "Dr. Grace Hopper",
		AppointmentDate: time.Date(2030, 5, 1, 9, 30, 0, 0, time.UTC),
		Status:          storage.StatusScheduled,
		Version:         1,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	})
	s.Require().NoError(err)
	s.True(ok)

	rec, err := s.repo.Get(s.Ctx, 1)
	s.Require().NoError(err)

	rec.Version = 2
	s.Require().NoError(s.repo.Save(s.Ctx, rec, 1))

	rec.Version = 3
	s.ErrorIs(s.repo.Save(s.Ctx, rec, 1), storage.ErrVersionConflict)

	ok, err = s.repo.InsertIfAbsent(s.Ctx, rec)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *ProjectorSuite) TestApplyAgainstPostgres() {
	p := projector.New(s.repo, slog.New(slog.NewTextHandler(io.Discard, nil)))

	s.Equal(consumer.Ack(), p.Apply(s.Ctx, snapshot(2, 1, events.Created)))
	s.Equal(consumer.Skip(projector.ReasonDuplicateCreate), p.Apply(s.Ctx, snapshot(2, 1, events.Created)))

	upd := snapshot(2, 2, events.Updated)
	upd.Notes = "bring results"
	s.Equal(consumer.Ack(), p.Apply(s.Ctx, upd))
	s.Equal(consumer.Skip(projector.ReasonStale), p.Apply(s.Ctx, upd))

	cancel := snapshot(2, 3, events.Updated)
	cancel.Cancelled = true
	s.Equal(consumer.Ack(), p.Apply(s.Ctx, cancel))
	s.Equal(consumer.Skip(projector.ReasonCancelled), p.Apply(s.Ctx, snapshot(2, 4, events.Updated)))

	rec, err := s.repo.Get(s.Ctx, 2)
	s.Require().NoError(err)
	s.Equal(storage.StatusCancelled, rec.Status)
	s.Equal("bring results", rec.Notes)
	s.EqualValues(3, rec.Version)

	s.Equal(consumer.Skip(projector.ReasonMissingPredecessor), p.Apply(s.Ctx, snapshot(99, 2, events.Updated)))
}

func (s *ProjectorSuite) TestConsumesBothQueues() {
	w := kafkax.NewWriter(s.KafkaBrokers)
	defer w.Close()

	write := func(evt events.AppointmentEvent, eventID string) {
		payload, err := events.Encode(evt)
		s.Require().NoError(err)
		key, err := s.topo.RoutingKey(evt.EventType)
		s.Require().NoError(err)
		meta := kafkax.EventMeta{EventID: eventID, EventType: string(evt.EventType)}
		s.Require().NoError(w.WriteMessages(s.Ctx, kafka.Message{
			Topic:   s.topo.TopicFor(key),
			Key:     []byte("10"),
			Value:   payload,
			Headers: meta.Headers(),
		}))
	}
	write(snapshot(10, 1, events.Created), "evt-created")
	upd := snapshot(10, 2, events.Updated)
	upd.Notes = "moved"
	write(upd, "evt-updated")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	group, err := consumer.ForQueues(logger, s.KafkaBrokers, "history-it", s.topo, consumer.Settings{
		MaxAttempts:    5,
		Backoff:        200 * time.Millisecond,
		HandlerTimeout: 5 * time.Second,
	}, projector.New(s.repo, logger).Handle)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.Ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		group.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Topics are read independently, so the update can overtake the create
	// and be dropped. Only the create is guaranteed to land.
	s.Eventually(func() bool {
		rec, err := s.repo.Get(s.Ctx, 10)
		return err == nil && rec.PatientEmail == "ada@example.com"
	}, 60*time.Second, 200*time.Millisecond)
}

func TestProjectorSuite(t *testing.T) {
	suite.Run(t, new(ProjectorSuite))
}
