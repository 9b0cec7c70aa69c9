package sqlinline

const QRecordWebhookDelivery = `--sql d4af966e-0e90-4228-b67a-3f7411017bf4
insert into webhook_deliveries(
  idempotency_key,
  provider,
  event_type,
  external_job_id,
  raw_payload,
  processed,
  retry_count,
  created_at,
  updated_at
) values (
  $1::text,
  $2::text,
  $3::text,
  $4::text,
  $5::jsonb,
  false,
  0,
  now(),
  now()
)
on conflict (idempotency_key) do update set updated_at = now()
returning idempotency_key, provider, event_type, external_job_id, processed, retry_count,
  raw_payload, coalesce(last_error, ''), created_at, updated_at, processed_at;
`

const QMarkWebhookProcessed = `--sql a52116f5-8b52-4317-8a66-acd4481a9f2f
update webhook_deliveries
set processed = true,
    processed_at = now(),
    last_error = null,
    updated_at = now()
where idempotency_key = $1::text;
`

const QMarkWebhookFailed = `--sql f5b31838-fcf3-4c09-aedf-99365cba8ffc
update webhook_deliveries
set retry_count = retry_count + 1,
    last_error = $2::text,
    updated_at = now()
where idempotency_key = $1::text
  and not processed;
`
