package sqlinline

const QSelectCreditBalance = `--sql 55a28974-b7e9-4d51-80a3-43d884f48e3d
select id, credits_limit, credits_used
from users
where id = $1::uuid
limit 1;
`

// QChargeCredits consumes credits and appends the ledger row in one
// statement. No row is returned when the balance is insufficient.
const QChargeCredits = `--sql 7d52cde9-bf78-4ce3-a5f4-1b4b5ffc2a9b
with consumed as (
  update users
  set credits_used = credits_used + $2::int,
      updated_at = now()
  where id = $1::uuid
    and credits_limit - credits_used >= $2::int
  returning id
),
ins as (
  insert into credit_transactions(id, owner_id, kind, credits_used, related_job_id, reason, created_at)
  select gen_random_uuid(), consumed.id, 'CHARGE', $2::int, nullif($3::text, '')::uuid, $4::text, now()
  from consumed
  returning id
)
select id from ins;
`

const QLatestChargeForJob = `--sql 540e205f-6154-41ce-9b16-d7105e6cb6f3
select credits_used
from credit_transactions
where related_job_id = $1::uuid
  and kind = 'CHARGE'
  and credits_used > 0
order by created_at desc
limit 1;
`

// QRefundJob relies on the partial unique index
// credit_transactions_one_refund_per_job; a second refund inserts nothing
// and therefore leaves users.credits_used untouched.
const QRefundJob = `--sql cf4729f9-2752-44d1-a8c1-7a40be960951
with ins as (
  insert into credit_transactions(id, owner_id, kind, credits_used, related_job_id, reason, created_at)
  values (gen_random_uuid(), $1::uuid, 'REFUND', -($3::int), $2::uuid, $4::text, now())
  on conflict (related_job_id) where kind = 'REFUND' do nothing
  returning owner_id, credits_used
)
update users u
set credits_used = u.credits_used + ins.credits_used,
    updated_at = now()
from ins
where u.id = ins.owner_id
returning -ins.credits_used;
`

const QReplayCredits = `--sql aabce50a-832a-4d9a-89f7-5c13854fe77f
select u.id, u.credits_used, coalesce(sum(t.credits_used), 0)::int
from users u
left join credit_transactions t on t.owner_id = u.id
where $1::text = '' or u.id = nullif($1::text, '')::uuid
group by u.id, u.credits_used
order by u.id;
`

const QRewriteCreditsUsed = `--sql 4bbf296b-2692-496e-ae91-a986ad029592
update users
set credits_used = $2::int,
    updated_at = now()
where id = $1::uuid;
`
