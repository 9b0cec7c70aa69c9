package sqlinline

// Job columns are selected in this order by every job query:
// id, kind, owner_id, external_job_id, status, result_urls, thumbnail_urls,
// error_message, storage_error, ephemeral_expires_at, processing_seconds,
// credits_charged, input, created_at, updated_at, completed_at.

const QInsertJob = `--sql 61d40f61-7db2-41c9-b1c9-58f012c1dfc1
insert into jobs(
  id,
  kind,
  owner_id,
  status,
  credits_charged,
  input,
  result_urls,
  thumbnail_urls,
  created_at,
  updated_at
) values (
  $1::uuid,
  $2::text,
  $3::uuid,
  $4::text,
  $5::int,
  coalesce($6::jsonb, '{}'::jsonb),
  '{}'::text[],
  '{}'::text[],
  now(),
  now()
) returning created_at, updated_at;
`

const QSelectJobByID = `--sql 15cf8828-f71e-43c5-b89a-9825b813e338
select
  id, kind, owner_id, coalesce(external_job_id, ''), status, result_urls, thumbnail_urls,
  coalesce(error_message, ''), coalesce(storage_error, ''), ephemeral_expires_at,
  coalesce(processing_seconds, 0), credits_charged, input, created_at, updated_at, completed_at
from jobs
where id = $1::uuid
limit 1;
`

const QSelectJobByExternalID = `--sql 16dd0a17-3185-4107-b1dc-b9517def478a
select
  id, kind, owner_id, coalesce(external_job_id, ''), status, result_urls, thumbnail_urls,
  coalesce(error_message, ''), coalesce(storage_error, ''), ephemeral_expires_at,
  coalesce(processing_seconds, 0), credits_charged, input, created_at, updated_at, completed_at
from jobs
where external_job_id = $1::text
limit 1;
`

const QSetJobSubmitted = `--sql 727cb8a4-abab-4ee3-8afc-4312dbd2438e
update jobs
set external_job_id = $2::text,
    status = 'PROCESSING',
    updated_at = now()
where id = $1::uuid
  and status in ('DRAFT', 'PENDING', 'UPLOADING');
`

const QMarkJobProcessing = `--sql 55be5919-2046-4e11-afdf-1fe818251145
update jobs
set status = 'PROCESSING',
    updated_at = now()
where id = $1::uuid
  and status in ('DRAFT', 'PENDING', 'UPLOADING')
returning id;
`

// QCompleteJob only matches non-terminal rows; zero rows means another
// observer already finished the job.
const QCompleteJob = `--sql b407779e-c2d3-4609-b9a8-5c249e2f248b
update jobs
set status = 'COMPLETED',
    result_urls = $2::text[],
    thumbnail_urls = $3::text[],
    storage_error = nullif($4::text, ''),
    ephemeral_expires_at = $5::timestamptz,
    processing_seconds = $6::double precision,
    error_message = null,
    completed_at = now(),
    updated_at = now()
where id = $1::uuid
  and status not in ('COMPLETED', 'FAILED', 'CANCELLED')
returning id;
`

const QFailJob = `--sql 98cfac89-3f86-48cf-a74a-2097d4587c94
update jobs
set status = $2::text,
    error_message = $3::text,
    completed_at = now(),
    updated_at = now()
where id = $1::uuid
  and status not in ('COMPLETED', 'FAILED', 'CANCELLED')
returning id;
`

const QListStaleJobs = `--sql 25571190-3fb2-4761-ab9f-46a41d0e1a7f
select
  id, kind, owner_id, coalesce(external_job_id, ''), status, result_urls, thumbnail_urls,
  coalesce(error_message, ''), coalesce(storage_error, ''), ephemeral_expires_at,
  coalesce(processing_seconds, 0), credits_charged, input, created_at, updated_at, completed_at
from jobs
where kind = $1::text
  and status = 'PROCESSING'
  and external_job_id is not null
  and updated_at <= $2::timestamptz
  and created_at >= $3::timestamptz
order by updated_at asc
limit $4::int;
`
