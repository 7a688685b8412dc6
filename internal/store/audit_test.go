package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/netpool/dispatch/internal/store"
	srverrors "github.com/netpool/dispatch/pkg/errors"
)

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Audit Store Suite")
}

var _ = Describe("AuditStore", func() {
	var (
		ctx context.Context
		s   *store.Store
		db  *sql.DB
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		db, err = store.NewDB(":memory:")
		Expect(err).NotTo(HaveOccurred())

		s = store.NewStore(db)
		Expect(s.Migrate(ctx)).To(Succeed())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Context("Get", func() {
		// Given an empty audit log
		// When we look up a record that was never appended
		// Then it should return a ResourceNotFoundError
		It("returns ResourceNotFoundError for an unknown id", func() {
			_, err := s.Audit().Get(ctx, "does-not-exist")
			Expect(err).To(HaveOccurred())
			Expect(srverrors.IsResourceNotFoundError(err)).To(BeTrue())
		})

		// Given a previously appended record
		// When we fetch it by id
		// Then every field round-trips
		It("returns a previously appended record", func() {
			rec := store.AuditRecord{
				ID:         "op-1",
				Endpoint:   "api.example.com:443",
				StartedAt:  time.Now().Add(-time.Second),
				FinishedAt: time.Now(),
				Outcome:    store.Succeeded,
				ByteCount:  1024,
			}
			Expect(s.Audit().Append(ctx, rec)).To(Succeed())

			got, err := s.Audit().Get(ctx, "op-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Endpoint).To(Equal("api.example.com:443"))
			Expect(got.Outcome).To(Equal(store.Succeeded))
			Expect(got.ByteCount).To(Equal(int64(1024)))
			Expect(got.ErrorText).To(BeEmpty())
		})
	})

	Context("Append with no ID", func() {
		// Given a record with an empty ID
		// When it is appended
		// Then a fresh identifier is assigned and the record is retrievable by it
		It("assigns an identifier", func() {
			rec := store.AuditRecord{
				Endpoint:   "host:80",
				StartedAt:  time.Now(),
				FinishedAt: time.Now(),
				Outcome:    store.Failed,
				ErrorText:  "transport error",
			}
			Expect(s.Audit().Append(ctx, rec)).To(Succeed())

			records, err := s.Audit().List(ctx, store.ByEndpoint("host:80"))
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ID).NotTo(BeEmpty())
			Expect(records[0].ErrorText).To(Equal("transport error"))
		})
	})

	Context("List filters", func() {
		BeforeEach(func() {
			base := time.Now().Add(-time.Hour)
			Expect(s.Audit().Append(ctx, store.AuditRecord{
				ID: "a", Endpoint: "e1:80", StartedAt: base, FinishedAt: base,
				Outcome: store.Succeeded, ByteCount: 10,
			})).To(Succeed())
			Expect(s.Audit().Append(ctx, store.AuditRecord{
				ID: "b", Endpoint: "e1:80", StartedAt: base, FinishedAt: base.Add(time.Minute),
				Outcome: store.Failed, ByteCount: 0, ErrorText: "boom",
			})).To(Succeed())
			Expect(s.Audit().Append(ctx, store.AuditRecord{
				ID: "c", Endpoint: "e2:80", StartedAt: base, FinishedAt: base.Add(2 * time.Minute),
				Outcome: store.Cancelled, ByteCount: 0,
			})).To(Succeed())
		})

		// Given records across two endpoints
		// When filtering by endpoint
		// Then only that endpoint's records are returned
		It("filters by endpoint", func() {
			records, err := s.Audit().List(ctx, store.ByEndpoint("e1:80"))
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
		})

		// Given records with mixed outcomes
		// When filtering by outcome
		// Then only matching records are returned
		It("filters by outcome", func() {
			records, err := s.Audit().List(ctx, store.ByOutcome(store.Failed))
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ID).To(Equal("b"))
		})

		// Given a limit
		// When listing
		// Then no more than that many records come back, most recent first
		It("honors WithLimit", func() {
			records, err := s.Audit().List(ctx, store.WithLimit(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ID).To(Equal("c"))
		})
	})
})
