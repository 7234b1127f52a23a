package sqlstore

// Schema is auto-migrated on open. For production, use a proper migration
// tool with versioned migrations.

func schemaFor(d Dialect) []string {
	if d == Postgres {
		return postgresSchema
	}
	return sqliteSchema
}

// =============================================================================
// SQLITE
// =============================================================================

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS fee_structures (
		id TEXT PRIMARY KEY,
		hostel_id TEXT NOT NULL,
		room_type TEXT NOT NULL,
		fee_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		security_deposit TEXT NOT NULL,
		includes_mess BOOLEAN NOT NULL DEFAULT 0,
		mess_charge_monthly TEXT NOT NULL DEFAULT '0',
		utility_charge_type TEXT NOT NULL,
		electricity_charge TEXT NOT NULL DEFAULT '0',
		water_charge TEXT NOT NULL DEFAULT '0',
		effective_from DATE NOT NULL,
		effective_to DATE,
		is_active BOOLEAN NOT NULL DEFAULT 0,
		version INTEGER NOT NULL,
		superseded_by TEXT REFERENCES fee_structures(id),
		supersedes TEXT REFERENCES fee_structures(id),
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP,
		CHECK (effective_to IS NULL OR effective_to > effective_from)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_fee_structures_version
		ON fee_structures(hostel_id, room_type, fee_type, version)`,
	`CREATE INDEX IF NOT EXISTS idx_fee_structures_tuple_active
		ON fee_structures(hostel_id, room_type, fee_type, is_active)`,

	// No two active, live rows of a tuple may overlap. Dates are stored as
	// YYYY-MM-DD so text comparison is date comparison.
	`CREATE TRIGGER IF NOT EXISTS fee_structures_no_overlap_insert
	BEFORE INSERT ON fee_structures
	WHEN NEW.is_active AND NEW.deleted_at IS NULL
	BEGIN
		SELECT RAISE(ABORT, 'fee_structures_no_overlap')
		WHERE EXISTS (
			SELECT 1 FROM fee_structures f
			WHERE f.hostel_id = NEW.hostel_id
			  AND f.room_type = NEW.room_type
			  AND f.fee_type = NEW.fee_type
			  AND f.is_active AND f.deleted_at IS NULL
			  AND f.id <> NEW.id
			  AND f.effective_from <= COALESCE(NEW.effective_to, '9999-12-31')
			  AND NEW.effective_from <= COALESCE(f.effective_to, '9999-12-31')
		);
	END`,
	`CREATE TRIGGER IF NOT EXISTS fee_structures_no_overlap_update
	BEFORE UPDATE ON fee_structures
	WHEN NEW.is_active AND NEW.deleted_at IS NULL
	BEGIN
		SELECT RAISE(ABORT, 'fee_structures_no_overlap')
		WHERE EXISTS (
			SELECT 1 FROM fee_structures f
			WHERE f.hostel_id = NEW.hostel_id
			  AND f.room_type = NEW.room_type
			  AND f.fee_type = NEW.fee_type
			  AND f.is_active AND f.deleted_at IS NULL
			  AND f.id <> NEW.id
			  AND f.effective_from <= COALESCE(NEW.effective_to, '9999-12-31')
			  AND NEW.effective_from <= COALESCE(f.effective_to, '9999-12-31')
		);
	END`,

	`CREATE TABLE IF NOT EXISTS charge_components (
		id TEXT PRIMARY KEY,
		fee_structure_id TEXT NOT NULL REFERENCES fee_structures(id),
		name TEXT NOT NULL,
		component_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		is_mandatory BOOLEAN NOT NULL DEFAULT 1,
		is_refundable BOOLEAN NOT NULL DEFAULT 0,
		is_recurring BOOLEAN NOT NULL DEFAULT 1,
		is_taxable BOOLEAN NOT NULL DEFAULT 0,
		visible_to_student BOOLEAN NOT NULL DEFAULT 1,
		proration_allowed BOOLEAN NOT NULL DEFAULT 0,
		calculation_method TEXT NOT NULL,
		tax_percentage TEXT NOT NULL DEFAULT '0',
		applies_from DATE,
		applies_to DATE,
		room_types TEXT NOT NULL DEFAULT '[]',
		display_order INTEGER NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_charge_components_name
		ON charge_components(fee_structure_id, lower(name)) WHERE deleted_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS charge_rules (
		id TEXT PRIMARY KEY,
		component_id TEXT NOT NULL REFERENCES charge_components(id),
		name TEXT NOT NULL,
		rule_type TEXT NOT NULL,
		condition_json TEXT NOT NULL DEFAULT '{}',
		action_json TEXT NOT NULL DEFAULT '{}',
		priority INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_charge_rules_component
		ON charge_rules(component_id)`,

	`CREATE TABLE IF NOT EXISTS discount_configurations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT,
		discount_type TEXT NOT NULL,
		percentage TEXT,
		amount TEXT,
		applies_to TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		hostel_ids TEXT NOT NULL DEFAULT '[]',
		room_types TEXT NOT NULL DEFAULT '[]',
		min_stay_months INTEGER,
		new_students_only BOOLEAN NOT NULL DEFAULT 0,
		max_usage_count INTEGER,
		current_usage_count INTEGER NOT NULL DEFAULT 0,
		valid_from DATE,
		valid_to DATE,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP,
		CHECK ((percentage IS NULL) <> (amount IS NULL)),
		CHECK (current_usage_count >= 0),
		CHECK (max_usage_count IS NULL OR current_usage_count <= max_usage_count)
	)`,
	// A deleted discount releases its code.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_discount_configurations_code
		ON discount_configurations(code) WHERE deleted_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS fee_calculations (
		id TEXT PRIMARY KEY,
		fee_structure_id TEXT NOT NULL REFERENCES fee_structures(id),
		hostel_id TEXT NOT NULL,
		room_type TEXT NOT NULL,
		fee_type TEXT NOT NULL,
		calculation_type TEXT NOT NULL,
		student_id TEXT,
		booking_id TEXT,
		move_in_date DATE NOT NULL,
		move_out_date DATE NOT NULL,
		duration_months INTEGER NOT NULL,
		monthly_rent TEXT NOT NULL,
		rent_total TEXT NOT NULL,
		security_deposit TEXT NOT NULL,
		mess_charges TEXT NOT NULL,
		utility_charges TEXT NOT NULL,
		other_charges TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		discount_id TEXT REFERENCES discount_configurations(id),
		discount_code TEXT,
		discount_applied TEXT NOT NULL,
		tax_percentage TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		total_payable TEXT NOT NULL,
		first_month_total TEXT NOT NULL,
		monthly_recurring TEXT NOT NULL,
		is_prorated BOOLEAN NOT NULL DEFAULT 0,
		prorated_days INTEGER,
		proration_factor TEXT,
		proration_adjustment TEXT NOT NULL DEFAULT '0',
		payment_schedule TEXT NOT NULL,
		breakdown TEXT NOT NULL,
		is_approved BOOLEAN NOT NULL DEFAULT 0,
		approved_by TEXT,
		approved_at TIMESTAMP,
		created_by TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fee_calculations_structure
		ON fee_calculations(fee_structure_id)`,
	`CREATE INDEX IF NOT EXISTS idx_fee_calculations_student
		ON fee_calculations(student_id) WHERE student_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS fee_approvals (
		id TEXT PRIMARY KEY,
		fee_structure_id TEXT NOT NULL REFERENCES fee_structures(id),
		status TEXT NOT NULL,
		requested_amount TEXT NOT NULL,
		previous_amount TEXT,
		justification TEXT NOT NULL DEFAULT '',
		revision_notes TEXT NOT NULL DEFAULT '[]',
		submitted_by TEXT NOT NULL,
		submitted_at TIMESTAMP NOT NULL,
		resolved_by TEXT,
		resolved_at TIMESTAMP,
		rejection_reason TEXT NOT NULL DEFAULT '',
		requires_resubmission BOOLEAN NOT NULL DEFAULT 0,
		effective_from DATE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_fee_approvals_pending
		ON fee_approvals(fee_structure_id) WHERE status = 'pending'`,

	`CREATE TABLE IF NOT EXISTS fee_approval_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		approval_id TEXT NOT NULL REFERENCES fee_approvals(id),
		fee_structure_id TEXT NOT NULL REFERENCES fee_structures(id),
		kind TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		occurred_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fee_approval_events_structure
		ON fee_approval_events(fee_structure_id, occurred_at, seq)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TIMESTAMP NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		subject_type TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_subject
		ON audit_log(subject_type, subject_id, at)`,
}

// =============================================================================
// POSTGRESQL
// =============================================================================

var postgresSchema = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,

	`CREATE TABLE IF NOT EXISTS fee_structures (
		id TEXT PRIMARY KEY,
		hostel_id TEXT NOT NULL,
		room_type TEXT NOT NULL,
		fee_type TEXT NOT NULL,
		amount NUMERIC(12,2) NOT NULL CHECK (amount BETWEEN 500 AND 100000),
		security_deposit NUMERIC(12,2) NOT NULL CHECK (security_deposit >= 0 AND security_deposit <= 3 * amount),
		includes_mess BOOLEAN NOT NULL DEFAULT FALSE,
		mess_charge_monthly NUMERIC(12,2) NOT NULL DEFAULT 0,
		utility_charge_type TEXT NOT NULL,
		electricity_charge NUMERIC(12,2) NOT NULL DEFAULT 0,
		water_charge NUMERIC(12,2) NOT NULL DEFAULT 0,
		effective_from DATE NOT NULL,
		effective_to DATE,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL,
		superseded_by TEXT REFERENCES fee_structures(id),
		supersedes TEXT REFERENCES fee_structures(id),
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ,
		CHECK (effective_to IS NULL OR effective_to > effective_from),
		CONSTRAINT fee_structures_no_overlap EXCLUDE USING gist (
			hostel_id WITH =,
			room_type WITH =,
			fee_type WITH =,
			daterange(effective_from, effective_to, '[]') WITH &&
		) WHERE (is_active AND deleted_at IS NULL)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_fee_structures_version
		ON fee_structures(hostel_id, room_type, fee_type, version)`,
	`CREATE INDEX IF NOT EXISTS idx_fee_structures_tuple_active
		ON fee_structures(hostel_id, room_type, fee_type, is_active)`,

	`CREATE TABLE IF NOT EXISTS charge_components (
		id TEXT PRIMARY KEY,
		fee_structure_id TEXT NOT NULL REFERENCES fee_structures(id),
		name TEXT NOT NULL,
		component_type TEXT NOT NULL,
		amount NUMERIC(12,2) NOT NULL CHECK (amount >= 0),
		is_mandatory BOOLEAN NOT NULL DEFAULT TRUE,
		is_refundable BOOLEAN NOT NULL DEFAULT FALSE,
		is_recurring BOOLEAN NOT NULL DEFAULT TRUE,
		is_taxable BOOLEAN NOT NULL DEFAULT FALSE,
		visible_to_student BOOLEAN NOT NULL DEFAULT TRUE,
		proration_allowed BOOLEAN NOT NULL DEFAULT FALSE,
		calculation_method TEXT NOT NULL,
		tax_percentage NUMERIC(7,4) NOT NULL DEFAULT 0 CHECK (tax_percentage BETWEEN 0 AND 100),
		applies_from DATE,
		applies_to DATE,
		room_types JSONB NOT NULL DEFAULT '[]',
		display_order INTEGER NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_charge_components_name
		ON charge_components(fee_structure_id, lower(name)) WHERE deleted_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS charge_rules (
		id TEXT PRIMARY KEY,
		component_id TEXT NOT NULL REFERENCES charge_components(id),
		name TEXT NOT NULL,
		rule_type TEXT NOT NULL,
		condition_json JSONB NOT NULL DEFAULT '{}',
		action_json JSONB NOT NULL DEFAULT '{}',
		priority INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_charge_rules_component
		ON charge_rules(component_id)`,

	`CREATE TABLE IF NOT EXISTS discount_configurations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT,
		discount_type TEXT NOT NULL,
		percentage NUMERIC(7,4),
		amount NUMERIC(12,2),
		applies_to TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		hostel_ids JSONB NOT NULL DEFAULT '[]',
		room_types JSONB NOT NULL DEFAULT '[]',
		min_stay_months INTEGER,
		new_students_only BOOLEAN NOT NULL DEFAULT FALSE,
		max_usage_count INTEGER,
		current_usage_count INTEGER NOT NULL DEFAULT 0,
		valid_from DATE,
		valid_to DATE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_by TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ,
		CHECK ((percentage IS NULL) <> (amount IS NULL)),
		CHECK (current_usage_count >= 0),
		CHECK (max_usage_count IS NULL OR current_usage_count <= max_usage_count)
	)`,
	// A deleted discount releases its code.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_discount_configurations_code
		ON discount_configurations(code) WHERE deleted_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS fee_calculations (
		id TEXT PRIMARY KEY,
		fee_structure_id TEXT NOT NULL REFERENCES fee_structures(id),
		hostel_id TEXT NOT NULL,
		room_type TEXT NOT NULL,
		fee_type TEXT NOT NULL,
		calculation_type TEXT NOT NULL,
		student_id TEXT,
		booking_id TEXT,
		move_in_date DATE NOT NULL,
		move_out_date DATE NOT NULL,
		duration_months INTEGER NOT NULL,
		monthly_rent NUMERIC(12,2) NOT NULL,
		rent_total NUMERIC(14,2) NOT NULL,
		security_deposit NUMERIC(12,2) NOT NULL,
		mess_charges NUMERIC(14,2) NOT NULL,
		utility_charges NUMERIC(14,2) NOT NULL,
		other_charges NUMERIC(14,2) NOT NULL,
		subtotal NUMERIC(14,2) NOT NULL,
		discount_id TEXT REFERENCES discount_configurations(id),
		discount_code TEXT,
		discount_applied NUMERIC(14,2) NOT NULL,
		tax_percentage NUMERIC(7,4) NOT NULL,
		tax_amount NUMERIC(14,2) NOT NULL,
		total_payable NUMERIC(14,2) NOT NULL,
		first_month_total NUMERIC(14,2) NOT NULL,
		monthly_recurring NUMERIC(14,2) NOT NULL,
		is_prorated BOOLEAN NOT NULL DEFAULT FALSE,
		prorated_days INTEGER,
		proration_factor NUMERIC(9,6),
		proration_adjustment NUMERIC(14,2) NOT NULL DEFAULT 0,
		payment_schedule JSONB NOT NULL,
		breakdown JSONB NOT NULL,
		is_approved BOOLEAN NOT NULL DEFAULT FALSE,
		approved_by TEXT,
		approved_at TIMESTAMPTZ,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		CHECK (total_payable = subtotal - discount_applied + tax_amount)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fee_calculations_structure
		ON fee_calculations(fee_structure_id)`,
	`CREATE INDEX IF NOT EXISTS idx_fee_calculations_student
		ON fee_calculations(student_id) WHERE student_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS fee_approvals (
		id TEXT PRIMARY KEY,
		fee_structure_id TEXT NOT NULL REFERENCES fee_structures(id),
		status TEXT NOT NULL,
		requested_amount NUMERIC(12,2) NOT NULL,
		previous_amount NUMERIC(12,2),
		justification TEXT NOT NULL DEFAULT '',
		revision_notes JSONB NOT NULL DEFAULT '[]',
		submitted_by TEXT NOT NULL,
		submitted_at TIMESTAMPTZ NOT NULL,
		resolved_by TEXT,
		resolved_at TIMESTAMPTZ,
		rejection_reason TEXT NOT NULL DEFAULT '',
		requires_resubmission BOOLEAN NOT NULL DEFAULT FALSE,
		effective_from DATE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_fee_approvals_pending
		ON fee_approvals(fee_structure_id) WHERE status = 'pending'`,

	`CREATE TABLE IF NOT EXISTS fee_approval_events (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		approval_id TEXT NOT NULL REFERENCES fee_approvals(id),
		fee_structure_id TEXT NOT NULL REFERENCES fee_structures(id),
		kind TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		amount NUMERIC(12,2) NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fee_approval_events_structure
		ON fee_approval_events(fee_structure_id, occurred_at, seq)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TIMESTAMPTZ NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		subject_type TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_subject
		ON audit_log(subject_type, subject_id, at)`,
}
