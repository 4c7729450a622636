package cachestore

import "github.com/Masterminds/semver/v3"

// SchemaVersion is the version of the cache layout written by Store.
// Caches with a different major version are treated as stale.
var SchemaVersion = semver.MustParse("1.0.0")

const schema = `
create table meta (
	key text primary key,
	value text not null
);

create table files (
	path text not null unique,
	id integer primary key
);

create table locations (
	id integer primary key,
	file integer not null references files(id),
	line integer not null,
	col integer not null
);

create table types (
	id integer primary key,
	kind text not null,
	name text,
	bytes integer,
	inner integer references types(id),
	loc integer references locations(id)
);
create index types_name on types(name);

create table members (
	parent integer not null references types(id),
	type integer not null references types(id),
	offset integer not null,
	name text,
	loc integer references locations(id)
);
create index members_parent on members(parent);

create table enumerators (
	parent integer not null references types(id),
	name text not null,
	value integer not null,
	loc integer references locations(id)
);
create index enumerators_parent on enumerators(parent);

create table array_dim (
	id integer not null references types(id),
	num integer not null,
	size integer,
	primary key (id, num)
);

create table functions (
	id integer primary key,
	name text not null,
	lo integer not null,
	hi integer not null,
	loc integer references locations(id)
);
create index functions_name on functions(name);
create index functions_lo on functions(lo);

create table variables (
	id integer primary key,
	type integer not null references types(id),
	name text,
	global integer not null,
	loc integer references locations(id)
);
create index variables_name on variables(name);

create table params (
	func integer not null references functions(id),
	var integer not null references variables(id),
	idx integer not null
);
create index params_func on params(func);

create table framepointers (
	func integer not null references functions(id),
	lo integer,
	hi integer,
	expr text not null
);
create index framepointers_func on framepointers(func);

create table variables2ranges (
	var integer not null references variables(id),
	lo integer not null,
	hi integer not null
);
create index variables2ranges_var on variables2ranges(var);

create table variables2expressions (
	var integer not null references variables(id),
	lo integer,
	hi integer,
	expr text not null
);
create index variables2expressions_var on variables2expressions(var);

create table lines (
	addr integer,
	loc integer not null references locations(id)
);
create index lines_addr on lines(addr);
create index lines_loc on lines(loc);

create table symbols (
	id integer primary key,
	name text not null,
	value integer not null,
	size integer not null,
	bind integer not null,
	type integer not null,
	vis integer not null,
	shndx integer not null
);
create index symbols_name on symbols(name);

create table insnset (
	addr integer not null,
	kind text not null
);
create index insnset_addr on insnset(addr);

create table cfi (
	lo integer not null,
	hi integer not null,
	expr text not null
);
create index cfi_lo on cfi(lo);

create table sections (
	id integer primary key,
	name text not null,
	type integer not null,
	addr integer not null,
	offset integer not null,
	size integer not null,
	flags integer not null
);
`
