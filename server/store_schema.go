package main

var postgresSchema = []string{
	`create table if not exists lists(
		id bigserial primary key,
		list_id text unique not null,
		user_id text,
		last_updated timestamptz not null default now(),
		x_axis_label text not null default 'Impact' check (length(x_axis_label) > 0),
		y_axis_label text not null default 'Urgency' check (length(y_axis_label) > 0)
	)`,
	`create index if not exists lists_last_updated_idx on lists(last_updated, id)`,
	`create table if not exists todo_items(
		id bigserial primary key,
		list_id text not null references lists(list_id) on delete cascade,
		text text not null check (length(text) > 0),
		number integer not null,
		completed boolean not null default false,
		position_x double precision,
		position_y double precision,
		quadrant text,
		last_position_x double precision,
		last_position_y double precision,
		last_quadrant text,
		sort_order integer not null default 0,
		created_at timestamptz not null default now(),
		check ((position_x is null) = (position_y is null) and (position_y is null) = (quadrant is null))
	)`,
	`alter table todo_items add column if not exists sort_order integer not null default 0`,
	`create index if not exists todo_items_list_sort_idx on todo_items(list_id, sort_order, id)`,
	`create unique index if not exists todo_items_active_number_idx on todo_items(list_id, number) where not completed`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS lists (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		list_id TEXT NOT NULL UNIQUE,
		user_id TEXT,
		last_updated DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		x_axis_label TEXT NOT NULL DEFAULT 'Impact' CHECK (length(x_axis_label) > 0),
		y_axis_label TEXT NOT NULL DEFAULT 'Urgency' CHECK (length(y_axis_label) > 0)
	)`,
	`CREATE INDEX IF NOT EXISTS lists_last_updated_idx ON lists(last_updated, id)`,
	`CREATE TABLE IF NOT EXISTS todo_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		list_id TEXT NOT NULL REFERENCES lists(list_id) ON DELETE CASCADE,
		text TEXT NOT NULL CHECK (length(text) > 0),
		number INTEGER NOT NULL,
		completed BOOLEAN NOT NULL DEFAULT 0,
		position_x REAL,
		position_y REAL,
		quadrant TEXT,
		last_position_x REAL,
		last_position_y REAL,
		last_quadrant TEXT,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK ((position_x IS NULL) = (position_y IS NULL) AND (position_y IS NULL) = (quadrant IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS todo_items_list_sort_idx ON todo_items(list_id, sort_order, id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS todo_items_active_number_idx ON todo_items(list_id, number) WHERE completed = 0`,
}
