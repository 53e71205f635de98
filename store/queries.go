package store

import "fmt"

type queries struct {
	snapshotKeys  string
	get           string
	insert        string
	update        string
	inactivate    string
	appendHistory string
	duplicateKeys string
	countRecords  string
	history       string
	rekeyRows     string
	rekeyDelete   string
	rekeyUpdate   string
	rekeyHistory  string
}

const recordColumns = "school_name, status, grade_name, student_name, student_id, gender, division_name, academic_year, created_date, unique_key"

func newQueries(d dialect) queries {
	ts := d.timestamp
	q := queries{
		snapshotKeys: "SELECT unique_key FROM active_student_data WHERE academic_year = ?",
		get: fmt.Sprintf("SELECT %s, %s FROM active_student_data WHERE unique_key = ? ORDER BY %s DESC, id DESC LIMIT 1",
			recordColumns, ts, ts),
		insert: fmt.Sprintf("INSERT INTO active_student_data (%s, %s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			recordColumns, ts),
		update: fmt.Sprintf("UPDATE active_student_data SET status = ?, grade_name = ?, student_name = ?, gender = ?, division_name = ?, %s = ? WHERE unique_key = ?",
			ts),
		inactivate: fmt.Sprintf("UPDATE active_student_data SET status = ?, %s = ? WHERE unique_key = ? AND (status IS NULL OR status <> ?)",
			ts),
		appendHistory: "INSERT INTO student_data_history (unique_key, change_type, field_changed, old_value, new_value, change_timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		duplicateKeys: "SELECT unique_key, COUNT(*) FROM active_student_data GROUP BY unique_key HAVING COUNT(*) > 1",
		countRecords:  "SELECT COUNT(*) FROM active_student_data",
		history:       "SELECT history_id, unique_key, change_type, field_changed, old_value, new_value, change_timestamp FROM student_data_history WHERE unique_key = ? ORDER BY change_timestamp, history_id",
		rekeyRows: fmt.Sprintf("SELECT id, school_name, student_id, academic_year, unique_key FROM active_student_data ORDER BY %s DESC, id DESC",
			ts),
		rekeyDelete:  "DELETE FROM active_student_data WHERE id = ?",
		rekeyUpdate:  "UPDATE active_student_data SET unique_key = ? WHERE id = ?",
		rekeyHistory: "UPDATE student_data_history SET unique_key = ? WHERE unique_key = ?",
	}

	for _, p := range []*string{
		&q.snapshotKeys, &q.get, &q.insert, &q.update, &q.inactivate, &q.appendHistory,
		&q.duplicateKeys, &q.countRecords, &q.history, &q.rekeyRows, &q.rekeyDelete,
		&q.rekeyUpdate, &q.rekeyHistory,
	} {
		*p = d.rebind(*p)
	}
	return q
}
