package share

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/centauron/federation-node/federationClient/store"
)

const batchSize = 500

// upsert stages rows in a TEMP table shaped like the destination, inserts
// the rows that violate no uniqueness constraint and refreshes updateCols on
// rows matching on the conflict columns.
func upsert[T any](tx *gorm.DB, rows []T, conflict, updateCols []string) error {
	if len(rows) == 0 {
		return nil
	}
	stmt := &gorm.Statement{DB: tx}
	if err := stmt.Parse(new(T)); err != nil {
		return fmt.Errorf("failed to parse model: %w", err)
	}
	table := stmt.Schema.Table
	tmp := "staging_" + table
	cols := quoteAll(stmt.Schema.DBNames)

	if err := tx.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS temp.%q`, tmp)).Error; err != nil {
		return err
	}
	if err := tx.Exec(fmt.Sprintf(`CREATE TEMP TABLE %q AS SELECT * FROM %q LIMIT 0`, tmp, table)).Error; err != nil {
		return fmt.Errorf("failed to create staging table for %s: %w", table, err)
	}
	defer tx.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS temp.%q`, tmp))

	if err := tx.Table(tmp).CreateInBatches(&rows, batchSize).Error; err != nil {
		return fmt.Errorf("failed to stage %s: %w", table, err)
	}

	insert := fmt.Sprintf(`INSERT INTO %q (%s) SELECT %s FROM %q WHERE true ON CONFLICT DO NOTHING`,
		table, cols, cols, tmp)
	if err := tx.Exec(insert).Error; err != nil {
		return fmt.Errorf("failed to insert %s: %w", table, err)
	}

	if len(updateCols) == 0 {
		return nil
	}
	match := make([]string, len(conflict))
	for i, c := range conflict {
		match[i] = fmt.Sprintf(`s.%q = %q.%q`, c, table, c)
	}
	where := strings.Join(match, " AND ")
	sets := make([]string, 0, len(updateCols)+1)
	for _, c := range append(updateCols, "updated_at") {
		sets = append(sets, fmt.Sprintf(`%q = (SELECT s.%q FROM %q s WHERE %s)`, c, c, tmp, where))
	}
	update := fmt.Sprintf(`UPDATE %q SET %s WHERE EXISTS (SELECT 1 FROM %q s WHERE %s)`,
		table, strings.Join(sets, ", "), tmp, where)
	if err := tx.Exec(update).Error; err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	return nil
}

func quoteAll(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = fmt.Sprintf("%q", c)
	}
	return strings.Join(q, ", ")
}

// existingIDs maps values of column to the local keys of matching rows.
func existingIDs(tx *gorm.DB, model any, column string, values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for start := 0; start < len(values); start += batchSize {
		end := start + batchSize
		if end > len(values) {
			end = len(values)
		}
		var found []struct {
			ID string
			K  string
		}
		err := tx.Model(model).
			Select(fmt.Sprintf("id, %q AS k", column)).
			Where(fmt.Sprintf("%q IN ?", column), values[start:end]).
			Scan(&found).Error
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			out[f.K] = f.ID
		}
	}
	return out, nil
}

// merger is the idempotent merge of one entity kind keyed by a global column.
type merger[T any] struct {
	kind   string
	column string
	update []string
	key    func(*T) string
	base   func(*T) *store.Base
}

// merge assigns local keys (fresh for new rows, existing otherwise),
// upserts the rows and attaches the new ones to the share and project.
func (m merger[T]) merge(tx *gorm.DB, st *importState, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	keys := make([]string, len(rows))
	for i := range rows {
		keys[i] = m.key(&rows[i])
	}
	existing, err := existingIDs(tx, new(T), m.column, keys)
	if err != nil {
		return fmt.Errorf("failed to look up existing %s: %w", m.kind, err)
	}

	var created []string
	seen := make(map[string]bool, len(rows))
	unique := rows[:0:0]
	for i := range rows {
		k := keys[i]
		if seen[k] {
			continue
		}
		seen[k] = true
		b := m.base(&rows[i])
		if id, ok := existing[k]; ok {
			b.ID = id
		} else {
			b.ID = uuid.NewString()
			created = append(created, b.ID)
		}
		st.remember(m.kind, k, b.ID)
		unique = append(unique, rows[i])
	}

	if err := upsert(tx, unique, []string{m.column}, m.update); err != nil {
		return err
	}
	return st.attach(tx, m.kind, created)
}

// attachMembers records entity ids of kind as members of the share and,
// when set, of the project.
func attachMembers(tx *gorm.DB, shareID string, projectID *string, kind string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]store.ShareMember, len(ids))
	for i, id := range ids {
		members[i] = store.ShareMember{ShareID: shareID, Kind: kind, EntityID: id}
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&members, batchSize).Error; err != nil {
		return fmt.Errorf("failed to attach %s to share: %w", kind, err)
	}
	if projectID == nil {
		return nil
	}
	pm := make([]store.ProjectMember, len(ids))
	for i, id := range ids {
		pm[i] = store.ProjectMember{ProjectID: *projectID, Kind: kind, EntityID: id}
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&pm, batchSize).Error; err != nil {
		return fmt.Errorf("failed to attach %s to project: %w", kind, err)
	}
	return nil
}
