package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"facetag/internal/config"
	"facetag/internal/ids"
	"facetag/internal/models"
)

var ErrDetectionNotFound = errors.New("detection record not found")

const (
	fieldFileName   = "FileName"
	fieldData       = "Data"
	fieldCreateDate = "CreateDate"

	scanBatch = 100

	defaultDeliveryTTL = 24 * time.Hour
)

// DetectionRepository keeps raw detection deliveries in Redis. Every record
// is a hash under "<table>:<id>" and is listed in "<table>:index"; records
// still waiting for fan-out are also in "<table>:pending".
type DetectionRepository struct {
	client *redis.Client
	table  string
	loc    *time.Location
	layout string
	now    func() time.Time
}

func NewDetectionRepository(client *redis.Client, cfg config.DetectionConfig) (*DetectionRepository, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.TimeZone, err)
	}
	layout := cfg.DateLayout
	if layout == "" {
		layout = time.DateTime
	}
	return &DetectionRepository{
		client: client,
		table:  cfg.Table,
		loc:    loc,
		layout: layout,
		now:    time.Now,
	}, nil
}

func (r *DetectionRepository) recordKey(id string) string {
	return r.table + ":" + id
}

func (r *DetectionRepository) indexKey() string {
	return r.table + ":index"
}

func (r *DetectionRepository) pendingKey() string {
	return r.table + ":pending"
}

func (r *DetectionRepository) deliveryKey(bodyHash string) string {
	return r.table + ":delivery:" + bodyHash
}

// Create stores a delivery and marks it pending until fan-out has linked it
// to a post.
func (r *DetectionRepository) Create(ctx context.Context, fileName string, data string) (models.DetectionRecord, error) {
	record := r.newRecord(fileName, data)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.recordKey(record.ID),
			fieldFileName, record.FileName,
			fieldData, record.Data,
			fieldCreateDate, record.CreateDate,
		)
		pipe.SAdd(ctx, r.indexKey(), record.ID)
		pipe.SAdd(ctx, r.pendingKey(), record.ID)
		return nil
	})
	if err != nil {
		return models.DetectionRecord{}, fmt.Errorf("store detection record: %w", err)
	}
	return record, nil
}

func (r *DetectionRepository) newRecord(fileName string, data string) models.DetectionRecord {
	return models.DetectionRecord{
		ID:         ids.New(),
		FileName:   fileName,
		Data:       data,
		CreateDate: r.now().In(r.loc).Format(r.layout),
	}
}

func (r *DetectionRepository) GetByID(ctx context.Context, id string) (models.DetectionRecord, error) {
	values, err := r.client.HGetAll(ctx, r.recordKey(id)).Result()
	if err != nil {
		return models.DetectionRecord{}, fmt.Errorf("load detection record: %w", err)
	}
	if len(values) == 0 {
		return models.DetectionRecord{}, ErrDetectionNotFound
	}
	return models.DetectionRecord{
		ID:         id,
		FileName:   values[fieldFileName],
		Data:       values[fieldData],
		CreateDate: values[fieldCreateDate],
	}, nil
}

// FindByFileNameContains returns every record whose FileName contains
// substr. An empty substr matches nothing.
func (r *DetectionRepository) FindByFileNameContains(ctx context.Context, substr string) ([]models.DetectionRecord, error) {
	if substr == "" {
		return nil, nil
	}

	var matches []string
	var cursor uint64
	for {
		members, next, err := r.client.SScan(ctx, r.indexKey(), cursor, "", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("scan detection index: %w", err)
		}

		if len(members) > 0 {
			cmds := make([]*redis.StringCmd, len(members))
			_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
				for i, id := range members {
					cmds[i] = pipe.HGet(ctx, r.recordKey(id), fieldFileName)
				}
				return nil
			})
			if err != nil && !errors.Is(err, redis.Nil) {
				return nil, fmt.Errorf("read detection file names: %w", err)
			}
			for i, cmd := range cmds {
				fileName, err := cmd.Result()
				if errors.Is(err, redis.Nil) {
					continue
				}
				if err != nil {
					return nil, fmt.Errorf("read detection file name %s: %w", members[i], err)
				}
				if strings.Contains(fileName, substr) {
					matches = append(matches, members[i])
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	records := make([]models.DetectionRecord, 0, len(matches))
	for _, id := range matches {
		record, err := r.GetByID(ctx, id)
		if errors.Is(err, ErrDetectionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// storeDeliveryScript writes a record and its delivery claim together. A
// claim only counts as a duplicate while the record it points at exists,
// so a claim left behind by a failed write never hides a redelivery.
//
// KEYS: delivery, record, index, pending
// ARGV: id, ttl ms, FileName, Data, CreateDate, record key prefix
var storeDeliveryScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing and redis.call('EXISTS', ARGV[6] .. existing) == 1 then
	return {0, existing}
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('HSET', KEYS[2], 'FileName', ARGV[3], 'Data', ARGV[4], 'CreateDate', ARGV[5])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('SADD', KEYS[4], ARGV[1])
return {1, ARGV[1]}
`)

// CreateDelivery stores a delivery unless the same body was stored within
// ttl. It reports whether a new record was written; for a duplicate the
// returned record is the one stored first.
func (r *DetectionRepository) CreateDelivery(ctx context.Context, bodyHash string, ttl time.Duration, fileName string, data string) (models.DetectionRecord, bool, error) {
	if ttl <= 0 {
		ttl = defaultDeliveryTTL
	}
	record := r.newRecord(fileName, data)

	res, err := storeDeliveryScript.Run(ctx, r.client,
		[]string{r.deliveryKey(bodyHash), r.recordKey(record.ID), r.indexKey(), r.pendingKey()},
		record.ID, ttl.Milliseconds(), record.FileName, record.Data, record.CreateDate, r.table+":",
	).Slice()
	if err != nil {
		return models.DetectionRecord{}, false, fmt.Errorf("store detection delivery: %w", err)
	}
	if len(res) != 2 {
		return models.DetectionRecord{}, false, fmt.Errorf("store detection delivery: unexpected reply %v", res)
	}

	stored, _ := res[0].(int64)
	if stored == 1 {
		return record, true, nil
	}

	existingID, _ := res[1].(string)
	existing, err := r.GetByID(ctx, existingID)
	if err != nil {
		return models.DetectionRecord{}, false, err
	}
	return existing, false, nil
}

func (r *DetectionRepository) ClearPending(ctx context.Context, id string) error {
	return r.client.SRem(ctx, r.pendingKey(), id).Err()
}

func (r *DetectionRepository) ListPending(ctx context.Context) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.pendingKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return members, nil
}
